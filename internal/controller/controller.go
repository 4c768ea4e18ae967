// Package controller owns the active step and dispatches view commands.
//
// Views emit commands instead of holding setter callbacks; the controller
// is the single writer of the step value and orchestrates the auth, chat,
// suggestion, and pharmacy modules around each transition.
package controller

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/careloop/engageflow/internal/auth"
	"github.com/careloop/engageflow/internal/chat"
	"github.com/careloop/engageflow/internal/models"
	"github.com/careloop/engageflow/internal/pharmacy"
	"github.com/careloop/engageflow/internal/suggest"
)

// gatedSteps require an authenticated session to enter. Chat and browsing
// steps are deliberately absent; anonymous users may use them.
var gatedSteps = map[models.Step]bool{
	models.StepPharmacySelect:   true,
	models.StepPharmacyChecking: true,
	models.StepHome:             true,
	models.StepProfile:          true,
}

// PharmacyRun couples the tick machine with its timer-driven runner.
type PharmacyRun struct {
	Machine *pharmacy.Machine
	Runner  *pharmacy.Runner
}

// StepController mediates every step change. The stashed target survives an
// auth redirect so the flow resumes where the user wanted to go.
type StepController struct {
	mu       sync.Mutex
	step     models.Step
	stashed  models.Step
	onboaded bool

	auth     *auth.Session
	chat     *chat.Session
	suggest  *suggest.Engine
	pharmacy *PharmacyRun
}

// New creates a controller starting at the intro step.
func New(a *auth.Session, c *chat.Session, s *suggest.Engine, p *PharmacyRun) *StepController {
	return &StepController{
		step:     models.StepIntro,
		auth:     a,
		chat:     c,
		suggest:  s,
		pharmacy: p,
	}
}

// Step returns the currently active step.
func (sc *StepController) Step() models.Step {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.step
}

// OnboardingComplete reports whether the user passed the onboarding flow.
func (sc *StepController) OnboardingComplete() bool {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.onboaded
}

// Transition moves to target. Gated steps require authentication; a guard
// rejection redirects to the phone step, stashes the target for post-auth
// resume, and returns ErrGuardRejected wrapped (callers log it, users never
// see it).
func (sc *StepController) Transition(ctx context.Context, target models.Step) (models.Step, error) {
	if !models.IsValidStep(target) {
		return sc.Step(), fmt.Errorf("unknown step %q", target)
	}

	if gatedSteps[target] && !sc.auth.Authenticated() {
		sc.mu.Lock()
		sc.stashed = target
		sc.step = models.StepPhone
		sc.mu.Unlock()
		slog.Info("StepController guard redirect", "requested", target, "redirect", models.StepPhone)
		return models.StepPhone, fmt.Errorf("transition to %s: %w", target, models.ErrGuardRejected)
	}

	sc.setStep(target)
	return target, nil
}

// ResumeAfterAuth continues to the stashed target once authentication
// succeeds, or to the success step when nothing was stashed.
func (sc *StepController) ResumeAfterAuth(ctx context.Context) models.Step {
	sc.mu.Lock()
	target := sc.stashed
	sc.stashed = ""
	sc.mu.Unlock()

	if target == "" {
		target = models.StepSuccess
	}
	sc.setStep(target)
	slog.Info("StepController resumed after auth", "step", target)
	return target
}

func (sc *StepController) setStep(target models.Step) {
	sc.mu.Lock()
	prev := sc.step
	sc.step = target
	if target == models.StepSuccess || serviceStep(target) {
		sc.onboaded = true
	}
	sc.mu.Unlock()

	if prev == models.StepPharmacyChecking && target != models.StepPharmacyChecking && sc.pharmacy != nil {
		// Navigating away freezes the check; it does not complete it.
		sc.pharmacy.Runner.Stop()
	}
	slog.Debug("StepController step changed", "from", prev, "to", target)
}

func serviceStep(s models.Step) bool {
	switch s {
	case models.StepHealthcareSearch, models.StepInsuranceAssistance,
		models.StepPharmacySelect, models.StepPharmacyChecking,
		models.StepEmbeddedChat, models.StepHome:
		return true
	default:
		return false
	}
}

// Dispatch executes one view command. The returned step is the step after
// the command; commands that only mutate module state leave it unchanged.
func (sc *StepController) Dispatch(ctx context.Context, cmd models.Command) (models.Step, error) {
	slog.Debug("StepController dispatch", "command", cmd.Type)
	switch cmd.Type {
	case models.CommandStartChat:
		return sc.startChat(ctx)
	case models.CommandSelectService:
		return sc.Transition(ctx, cmd.Step)
	case models.CommandSubmitPhone:
		return sc.submitPhone(ctx, cmd.Phone)
	case models.CommandSubmitOTP:
		return sc.submitOTP(ctx, cmd.Code)
	case models.CommandSubmitAdditionalInfo:
		return sc.submitAdditionalInfo(ctx, cmd.BirthDate, cmd.SSN)
	case models.CommandSubmitProfile:
		return sc.submitProfile(ctx, cmd.Profile)
	case models.CommandSendMessage:
		return sc.sendMessage(ctx, cmd.Text)
	case models.CommandStartAgain:
		return sc.startAgain(ctx)
	case models.CommandStartPharmacyCheck:
		return sc.startPharmacyCheck(ctx, cmd.Targets)
	case models.CommandLogout:
		return sc.logout(ctx)
	default:
		return sc.Step(), fmt.Errorf("unknown command %q", cmd.Type)
	}
}

func (sc *StepController) startChat(ctx context.Context) (models.Step, error) {
	if err := sc.chat.CreateThread(ctx); err != nil {
		return sc.Step(), fmt.Errorf("start chat: %w", err)
	}
	return sc.Transition(ctx, models.StepEmbeddedChat)
}

func (sc *StepController) submitPhone(ctx context.Context, phone string) (models.Step, error) {
	if err := sc.auth.SendOTP(ctx, phone); err != nil {
		return sc.Step(), err
	}
	sc.setStep(models.StepOTP)
	return models.StepOTP, nil
}

func (sc *StepController) submitOTP(ctx context.Context, code string) (models.Step, error) {
	out, err := sc.auth.VerifyOTP(ctx, code)
	if err != nil {
		return sc.Step(), err
	}
	return sc.routeOutcome(ctx, out), nil
}

func (sc *StepController) submitAdditionalInfo(ctx context.Context, birthDate, ssn string) (models.Step, error) {
	out, err := sc.auth.SubmitAdditionalInfo(ctx, birthDate, ssn)
	if err != nil {
		return sc.Step(), err
	}
	return sc.routeOutcome(ctx, out), nil
}

// routeOutcome maps a verification outcome onto the next step.
func (sc *StepController) routeOutcome(ctx context.Context, out *auth.Outcome) models.Step {
	switch {
	case out.ExistingUser:
		return sc.ResumeAfterAuth(ctx)
	case len(out.AdditionalInputs) > 0:
		sc.setStep(models.StepAdditionalInfo)
		return models.StepAdditionalInfo
	default:
		sc.setStep(models.StepConfirmProfile)
		return models.StepConfirmProfile
	}
}

func (sc *StepController) submitProfile(ctx context.Context, profile *models.Profile) (models.Step, error) {
	if profile == nil {
		return sc.Step(), models.ErrMissingProfile
	}
	if _, err := sc.auth.ConfirmProfile(ctx, *profile); err != nil {
		return sc.Step(), err
	}
	return sc.ResumeAfterAuth(ctx), nil
}

func (sc *StepController) sendMessage(ctx context.Context, text string) (models.Step, error) {
	if text == "" {
		return sc.Step(), fmt.Errorf("message text is empty")
	}
	if err := sc.chat.CreateThread(ctx); err != nil {
		return sc.Step(), fmt.Errorf("send message: %w", err)
	}
	sc.chat.Enqueue(ctx, text)
	return sc.Step(), nil
}

// startAgain truncates the chat log to its first three entries, clears the
// suggestion state, and recomputes against the truncated context.
func (sc *StepController) startAgain(ctx context.Context) (models.Step, error) {
	sc.chat.StartAgain()
	sc.suggest.Reset()
	sc.suggest.Refresh(ctx)
	slog.Info("StepController conversation restarted")
	return sc.Step(), nil
}

func (sc *StepController) startPharmacyCheck(ctx context.Context, targets []models.PharmacyTarget) (models.Step, error) {
	if sc.pharmacy == nil {
		return sc.Step(), fmt.Errorf("pharmacy check is not configured")
	}
	if len(targets) == 0 {
		return sc.Step(), fmt.Errorf("no pharmacies selected")
	}

	step, err := sc.Transition(ctx, models.StepPharmacyChecking)
	if err != nil {
		return step, err
	}
	sc.pharmacy.Machine.SetTargets(targets)
	sc.pharmacy.Runner.Start(ctx)
	return step, nil
}

func (sc *StepController) logout(ctx context.Context) (models.Step, error) {
	if err := sc.auth.Logout(); err != nil {
		return sc.Step(), err
	}
	sc.chat.Reset()
	sc.suggest.Reset()
	if sc.pharmacy != nil {
		sc.pharmacy.Runner.Stop()
	}

	sc.mu.Lock()
	sc.stashed = ""
	sc.onboaded = false
	sc.mu.Unlock()
	sc.setStep(models.StepIntro)
	return models.StepIntro, nil
}
