package queue

// Item is one contact row waiting to be prepared.
type Item struct {
	// Seq is the 1-based position of the row in the input.
	Seq int
	Row []string
}
