package api

import (
	"encoding/json"
	"fmt"
)

// Roadmap node status values as stored by the backend.
const (
	NodeStatusLocked    = "locked"
	NodeStatusActive    = "active"
	NodeStatusCompleted = "completed"
)

// RoadmapNode is a single module in a learning roadmap.
type RoadmapNode struct {
	ID             string   `json:"id"`
	Title          string   `json:"title"`
	Description    string   `json:"description"`
	EstimatedHours int      `json:"estimatedHours"`
	Status         string   `json:"status"`
	Topics         []string `json:"topics"`
}

// Roadmap is an ordered learning plan toward a career goal.
type Roadmap struct {
	Title       string        `json:"title"`
	Description string        `json:"description"`
	Nodes       []RoadmapNode `json:"nodes"`
}

// ParseRoadmap decodes the serialized roadmap snapshot stored on a session.
func ParseRoadmap(snapshot string) (*Roadmap, error) {
	var r Roadmap
	if err := json.Unmarshal([]byte(snapshot), &r); err != nil {
		return nil, fmt.Errorf("failed to parse roadmap snapshot: %w", err)
	}
	return &r, nil
}

// MetricsEvent is a live metrics update pushed over the realtime channel.
// Unknown fields are ignored for forward compatibility.
type MetricsEvent struct {
	XP     int `json:"xp"`
	Streak int `json:"streak"`
}

// Profile is the backend's view of a user after a profile update.
type Profile struct {
	ID          json.Number `json:"id"`
	Username    string      `json:"username"`
	Email       string      `json:"email"`
	RoadmapJSON string      `json:"roadmapJson"`
}

// signInRequest is the POST /api/auth/signin body.
type signInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// signInResponse is the signin success body: identity plus the token pair
// and the optional roadmap snapshot.
type signInResponse struct {
	UserID       json.Number `json:"userId"`
	ID           json.Number `json:"id"` // legacy field name, same value
	Username     string      `json:"username"`
	Email        string      `json:"email"`
	Roles        []string    `json:"roles"`
	AccessToken  string      `json:"accessToken"`
	Token        string      `json:"token"` // legacy field name for accessToken
	RefreshToken string      `json:"refreshToken"`
	RoadmapJSON  string      `json:"roadmapJson"`
}

// signUpRequest is the POST /api/auth/signup body.
type signUpRequest struct {
	Username string   `json:"username"`
	Email    string   `json:"email"`
	Password string   `json:"password"`
	Role     []string `json:"role"`
}

// refreshRequest is the POST /api/auth/refreshtoken body.
type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// refreshResponse carries the newly minted access token.
type refreshResponse struct {
	AccessToken string `json:"accessToken"`
}

// logoutRequest is the POST /api/auth/logout body.
type logoutRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// forgotPasswordRequest is the POST /api/auth/forgot-password body.
type forgotPasswordRequest struct {
	Email string `json:"email"`
}

// forgotPasswordResponse carries the generic message and, on this backend,
// the simulated-email reset token.
type forgotPasswordResponse struct {
	Message string `json:"message"`
	Token   string `json:"token"`
}

// resetPasswordRequest is the POST /api/auth/reset-password body.
type resetPasswordRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"newPassword"`
}

// UpdateProfileRequest is the PUT /api/users/{id} body. Empty fields are
// left unchanged by the backend.
type UpdateProfileRequest struct {
	Username string `json:"username,omitempty"`
	Email    string `json:"email,omitempty"`
	Password string `json:"password,omitempty"`
}

// saveRoadmapRequest is the PUT /api/users/{id}/roadmap body. The roadmap
// travels as a serialized JSON string, matching the backend's storage model.
type saveRoadmapRequest struct {
	RoadmapJSON string `json:"roadmapJson"`
}

// messageResponse is the generic {message} body the backend returns for
// acknowledgments and errors alike.
type messageResponse struct {
	Message string `json:"message"`
}
