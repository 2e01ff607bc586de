package types

// ChangeEvent is emitted once when a decoded value is accepted.
type ChangeEvent struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}
