package models

// DownloadClaims authorize one blob download through the edge.
type DownloadClaims struct {
	Issuer    string `json:"iss,omitempty"`
	Subject   string `json:"sub"` // job id
	IssuedAt  int64  `json:"iat"`
	ExpiresAt int64  `json:"exp"`
	Key       string `json:"key"` // blob key
}

// SessionClaims bind a verified subscription handle to a browser cookie.
type SessionClaims struct {
	Issuer    string `json:"iss"`
	Subject   string `json:"sub"` // oracle handle
	IssuedAt  int64  `json:"iat"`
	ExpiresAt int64  `json:"exp"`
}
