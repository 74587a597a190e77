package mail

import "github.com/kasuganosora/dmail/model"

// Actor is the caller on whose behalf an operation runs.
type Actor struct {
	ID    int64
	Level int
}

// ActorOf builds the Actor for a loaded user.
func ActorOf(u *model.User) Actor {
	return Actor{ID: u.ID, Level: u.Level}
}

// Privileged reports whether the actor may use moderation paths.
func (a Actor) Privileged() bool { return a.Level >= model.LevelModerator }

// Draft is the content of a message that has not been stored yet.
type Draft struct {
	Title string
	Body  string
}
