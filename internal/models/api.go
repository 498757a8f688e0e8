package models

// User is the authenticated account as returned by GET /user.
type User struct {
	ID        string  `json:"id"`
	Name      *string `json:"name"`
	Email     string  `json:"email"`
	Role      string  `json:"role"`
	CreatedAt string  `json:"createdAt"`
}

// UserStats holds per-account contribution counters.
type UserStats struct {
	DealsCreated         int `json:"dealsCreated"`
	ResearchSaved        int `json:"researchSaved"`
	EnrichmentsSubmitted int `json:"enrichmentsSubmitted"`
}

// UserResponse is the whoami payload.
type UserResponse struct {
	User  User      `json:"user"`
	Stats UserStats `json:"stats"`
}
