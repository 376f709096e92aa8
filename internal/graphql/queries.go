package graphql

// Operations sent to the note service. Field selection mirrors models.Note.
const (
	ListNotesQuery = `query ListNotes {
  listNotes {
    items {
      id
      clientId
      name
      description
      completed
    }
  }
}`

	CreateNoteMutation = `mutation CreateNote($input: CreateNoteInput!) {
  createNote(input: $input) {
    id
    clientId
    name
    description
    completed
  }
}`

	DeleteNoteMutation = `mutation DeleteNote($id: ID!) {
  deleteNote(input: {id: $id}) {
    id
  }
}`
)
