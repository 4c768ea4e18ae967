package models

// Step names one state of the onboarding/service flow. Exactly one step is
// active per session context, and it is mutated only by the controller.
type Step string

const (
	StepIntro               Step = "intro"
	StepPhone               Step = "phone"
	StepOTP                 Step = "otp"
	StepAdditionalInfo      Step = "additional_info"
	StepConfirmProfile      Step = "confirm_profile"
	StepSuccess             Step = "success"
	StepHealthcareSearch    Step = "healthcare_search"
	StepInsuranceAssistance Step = "insurance_assistance"
	StepPharmacySelect      Step = "pharmacy_select"
	StepPharmacyChecking    Step = "pharmacy_checking"
	StepEmbeddedChat        Step = "embedded_chat"
	StepHome                Step = "home"
	StepProfile             Step = "profile"
)

// IsValidStep reports whether s is a known step.
func IsValidStep(s Step) bool {
	switch s {
	case StepIntro, StepPhone, StepOTP, StepAdditionalInfo, StepConfirmProfile,
		StepSuccess, StepHealthcareSearch, StepInsuranceAssistance,
		StepPharmacySelect, StepPharmacyChecking, StepEmbeddedChat,
		StepHome, StepProfile:
		return true
	default:
		return false
	}
}

// CommandType enumerates the intents a view can dispatch to the controller.
// Views emit commands instead of holding setter callbacks.
type CommandType string

const (
	CommandStartChat            CommandType = "start_chat"
	CommandSelectService        CommandType = "select_service"
	CommandSubmitPhone          CommandType = "submit_phone"
	CommandSubmitOTP            CommandType = "submit_otp"
	CommandSubmitAdditionalInfo CommandType = "submit_additional_info"
	CommandSubmitProfile        CommandType = "submit_profile"
	CommandSendMessage          CommandType = "send_message"
	CommandStartAgain           CommandType = "start_again"
	CommandStartPharmacyCheck   CommandType = "start_pharmacy_check"
	CommandLogout               CommandType = "logout"
)

// Command is a single dispatched intent with its payload. Only the fields
// relevant to the command type are populated.
type Command struct {
	Type      CommandType      `json:"type"`
	Step      Step             `json:"step,omitempty"`
	Phone     string           `json:"phone,omitempty"`
	Code      string           `json:"code,omitempty"`
	BirthDate string           `json:"birth_date,omitempty"`
	SSN       string           `json:"ssn,omitempty"`
	Profile   *Profile         `json:"profile,omitempty"`
	Text      string           `json:"text,omitempty"`
	Targets   []PharmacyTarget `json:"targets,omitempty"`
}
