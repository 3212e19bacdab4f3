package models

// Identity is the resolved authentication result for one live connection.
// It is established once at connect time and cached in the session store
// for the lifetime of the connection.
type Identity struct {
	UserID      int    `json:"user_id"`
	DisplayName string `json:"display_name"`
	ConnID      string `json:"conn_id"`
}

// Credentials is what the transport hands over on connect. Exactly one of
// the three variants is expected:
//   - AIToken: a signed AI-match token carrying the node id,
//   - AccessToken: a verified user token,
//   - UserID/DisplayName: the bypass pair used by local clients and tests.
type Credentials struct {
	AccessToken string `json:"access_token,omitempty"`
	AIToken     string `json:"ai_token,omitempty"`
	UserID      int    `json:"user_id,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
}

// IsAI reports whether the credentials belong to the AI service itself.
func (c Credentials) IsAI() bool {
	return c.AIToken != ""
}
