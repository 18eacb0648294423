package model

import "time"

// Note is a user's text note. Content is free text that may embed image
// references (see package content).
//
// UpdateTime is a logical clock in unix milliseconds. It is strictly
// increasing for a given note: every write sets it to max(now, previous+1).
type Note struct {
	ID         int64     `json:"id"         db:"id"`
	UserID     string    `json:"-"          db:"user_id"`
	Title      string    `json:"title"      db:"title"`
	Content    string    `json:"content"    db:"content"`
	Favourite  bool      `json:"favourite"  db:"favourite"`
	IsDiary    bool      `json:"isDiary"    db:"is_diary"`
	UpdateTime int64     `json:"updateTime" db:"update_time"`
	CreatedAt  time.Time `json:"createdAt"  db:"created_at"`
}

// NoteOverview is a Note without its content, used for listing.
type NoteOverview struct {
	ID         int64  `json:"id"`
	Title      string `json:"title"`
	Favourite  bool   `json:"favourite"`
	IsDiary    bool   `json:"isDiary"`
	UpdateTime int64  `json:"updateTime"`
}

// Overview strips the content from the note.
func (n *Note) Overview() NoteOverview {
	return NoteOverview{
		ID:         n.ID,
		Title:      n.Title,
		Favourite:  n.Favourite,
		IsDiary:    n.IsDiary,
		UpdateTime: n.UpdateTime,
	}
}
