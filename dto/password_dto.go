package dto

type ChangeMyPasswordDTO struct {
	CurrentPassword string `json:"currentPassword" binding:"required"`
	NewPassword     string `json:"newPassword" binding:"required"`
}

type ForgotPasswordDTO struct {
	Email string `json:"email" binding:"required"`
}

// ResetPasswordDTO carries the new password; the ticket travels in the path.
type ResetPasswordDTO struct {
	Password string `json:"password" binding:"required"`
}
