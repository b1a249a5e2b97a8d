package smartlsm

// Embedder converts natural-language text into a fixed-dimension vector.
// Implementations are pure and may be expensive; a nil error with an empty
// vector means "embedding unavailable" and the caller degrades gracefully.
// The store never calls Embed during search when the query vector is
// already available.
type Embedder interface {
	Embed(text string) ([]float32, error)
}

// EmbedderFunc adapts a plain function to the Embedder interface.
type EmbedderFunc func(text string) ([]float32, error)

// Embed implements Embedder.
func (f EmbedderFunc) Embed(text string) ([]float32, error) { return f(text) }
