package players

// Player is a room participant. Score is nil until the player votes.
type Player struct {
	Name   string
	Score  *float64
	IsHost bool
}

func (p Player) HasVoted() bool {
	return p.Score != nil
}
