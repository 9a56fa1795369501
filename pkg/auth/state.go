package auth

// State is the position of a Session in the authorization lifecycle.
type State int

const (
	StateNotAuthenticated State = iota
	StateWaitingForAuthorizationCode
	StateWaitingForToken
	StateAuthenticated
	StateRefreshing
	StateError
)

var stateNames = map[State]string{
	StateNotAuthenticated:            "NOT_AUTHENTICATED",
	StateWaitingForAuthorizationCode: "WAITING_FOR_AUTHORIZATION_CODE",
	StateWaitingForToken:             "WAITING_FOR_TOKEN",
	StateAuthenticated:               "AUTHENTICATED",
	StateRefreshing:                  "REFRESHING",
	StateError:                       "ERROR",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "UNKNOWN"
}

// MarshalText renders the state name in JSON status output.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
