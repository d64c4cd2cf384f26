package domain

import "errors"

var (
	// ErrSessionNotFound is returned when no live session holds the pin.
	ErrSessionNotFound = errors.New("game session not found")
	// ErrSessionClosed is returned for commands addressed to a destroyed session.
	ErrSessionClosed = errors.New("game session closed")
	// ErrGameNotFound indicates the game definition could not be loaded.
	ErrGameNotFound = errors.New("game not found")
	// ErrEmptyGame rejects games with no questions.
	ErrEmptyGame = errors.New("game has no questions")
	// ErrLobbyLocked is returned when joining a locked lobby.
	ErrLobbyLocked = errors.New("lobby is locked")
	// ErrGameStarted is returned when a new name joins after the game started.
	ErrGameStarted = errors.New("game already started")
	// ErrNameTaken is returned when the display name is already in the roster.
	ErrNameTaken = errors.New("name already taken")
	// ErrNameBanned is returned when a banned name tries to join again.
	ErrNameBanned = errors.New("name is banned from this lobby")
	// ErrInvalidName rejects empty or reserved names.
	ErrInvalidName = errors.New("invalid name")
	// ErrAlreadyInSession is returned when a connection tries to enter a second session.
	ErrAlreadyInSession = errors.New("connection already in a session")
	// ErrNoFreePin is returned when pin allocation keeps colliding.
	ErrNoFreePin = errors.New("no free pin available")
)
