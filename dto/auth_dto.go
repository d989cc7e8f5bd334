package dto

type LoginDTO struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type RegisterDTO struct {
	Name  string `json:"name" binding:"required"`
	Email string `json:"email" binding:"required"`
	Role  string `json:"role"`
}

// UpdateProfileDTO is the JSON form of PATCH /admin/:id. Absent fields are
// left unchanged.
type UpdateProfileDTO struct {
	Name         *string `json:"name"`
	LinkedinLink *string `json:"linkedinLink"`
	Email        *string `json:"email"`
	Role         *string `json:"role"`
}
