package services

import "fmt"

// Fixed user-facing texts. They are plain text and escaped before sending.
const (
	ReplyQuotaExceeded      = "⚠️ You have run out of message rights. Use the /code command to earn new rights."
	ReplyPhotoQuotaExceeded = "⚠️ You have run out of message rights."
	ReplySystemError        = "System error: User data could not be retrieved."
	ReplyTryAgain           = "An error occurred, please try again."
	ReplyPhotoError         = "An error occurred while processing the image."
	ReplyEmptyCode          = "❌ Code not found. Please send it as /code 1234."
	ReplyInvalidCode        = "❌ Invalid code."
)

// ReplyCodeAccepted confirms a redemption that added amount rights.
func ReplyCodeAccepted(amount int) string {
	return fmt.Sprintf("✅ Code is valid! %d rights have been added to your account.", amount)
}

// ReplyGreeting is the /start text.
func ReplyGreeting(botName string) string {
	return fmt.Sprintf("hi! i am %s. I am here to answer your questions and analyze images.", botName)
}
