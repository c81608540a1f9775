package validation

import (
	"testing"

	"github.com/gin-gonic/gin/binding"
)

type pinRequest struct {
	PIN string `json:"pin" binding:"required,pin"`
}

type sessionRequest struct {
	TeamName string `json:"teamName" binding:"omitempty,teamname"`
}

func TestRegisterBindings_PinTag(t *testing.T) {
	if err := RegisterBindings(); err != nil {
		t.Fatalf("RegisterBindings() error: %v", err)
	}
	// second call is a no-op
	if err := RegisterBindings(); err != nil {
		t.Fatalf("RegisterBindings() second call error: %v", err)
	}

	if err := binding.Validator.ValidateStruct(&pinRequest{PIN: "123456"}); err != nil {
		t.Errorf("valid pin rejected: %v", err)
	}
	err := binding.Validator.ValidateStruct(&pinRequest{PIN: "12345"})
	if err == nil {
		t.Fatal("short pin accepted")
	}
	if got := BindingMessage(err); got != "PIN must be exactly 6 digits" {
		t.Errorf("BindingMessage() = %q", got)
	}
}

func TestRegisterBindings_TeamNameTag(t *testing.T) {
	if err := RegisterBindings(); err != nil {
		t.Fatalf("RegisterBindings() error: %v", err)
	}
	if err := binding.Validator.ValidateStruct(&sessionRequest{}); err != nil {
		t.Errorf("empty team name rejected: %v", err)
	}
	err := binding.Validator.ValidateStruct(&sessionRequest{TeamName: "Alpha<1>"})
	if err == nil {
		t.Fatal("invalid team name accepted")
	}
	if got := BindingMessage(err); got != "Team name contains invalid characters" {
		t.Errorf("BindingMessage() = %q", got)
	}
}

func TestBindingMessage_NonValidatorError(t *testing.T) {
	if got := BindingMessage(nil); got != "Invalid request body" {
		t.Errorf("BindingMessage(nil) = %q", got)
	}
}
