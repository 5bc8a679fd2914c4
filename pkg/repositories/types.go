package repositories

type ErrNotFound struct {
}

func (e *ErrNotFound) Error() string {
	return "not found"
}

func IsNotFound(err error) bool {
	_, ok := err.(*ErrNotFound)
	return ok
}

type ErrDuplicateRoomCode struct {
	Code string
}

func (e *ErrDuplicateRoomCode) Error() string {
	return "room code " + e.Code + " is already in use"
}

func IsDuplicateRoomCode(err error) bool {
	_, ok := err.(*ErrDuplicateRoomCode)
	return ok
}
