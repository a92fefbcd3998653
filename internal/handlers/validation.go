package handlers

import "fmt"

const codeInvalidArgument = "INVALID_ARGUMENT"

func validateRoomName(roomName string) error {
	if normalizeName(roomName) == "" {
		return fmt.Errorf("roomName required")
	}
	return nil
}

func validateUserName(userName string) error {
	if normalizeName(userName) == "" {
		return fmt.Errorf("userName required")
	}
	return nil
}

// validateID rejects missing (zero) and negative identifiers.
func validateID(field string, id int64) error {
	if id <= 0 {
		return fmt.Errorf("%s must be a positive integer", field)
	}
	return nil
}
