package models

import dErrors "vaultline/pkg/domain-errors"

// Stage is the position of a conversation in the onboarding flow.
type Stage string

const (
	StageNeedConsent                Stage = "need_consent"
	StageCollectingName             Stage = "collecting_name"
	StageCollectingSubmission       Stage = "collecting_submission"
	StageCollectingSecondaryConsent Stage = "collecting_secondary_consent"
	StageCollectingRetentionChoice  Stage = "collecting_retention_choice"
	StageCompleted                  Stage = "completed"

	// Side stages, entered through commands.
	StageDeletionRequested Stage = "deletion_requested"
	StageConfirmed         Stage = "confirmed"
	StageCancelled         Stage = "cancelled"
	StageExportRequested   Stage = "export_requested"
	StageStopped           Stage = "stopped"
)

// AllStages lists every stage. A dispatcher must cover all of them.
func AllStages() []Stage {
	return []Stage{
		StageNeedConsent,
		StageCollectingName,
		StageCollectingSubmission,
		StageCollectingSecondaryConsent,
		StageCollectingRetentionChoice,
		StageCompleted,
		StageDeletionRequested,
		StageConfirmed,
		StageCancelled,
		StageExportRequested,
		StageStopped,
	}
}

func ParseStage(s string) (Stage, error) {
	stage := Stage(s)
	if !stage.IsValid() {
		return "", dErrors.New(dErrors.CodeInvalidInput, "unknown stage: "+s)
	}
	return stage, nil
}

func (s Stage) IsValid() bool {
	for _, known := range AllStages() {
		if s == known {
			return true
		}
	}
	return false
}

// IsSide reports whether the stage is a temporary detour that resumes the
// stage saved before it.
func (s Stage) IsSide() bool {
	switch s {
	case StageDeletionRequested, StageCancelled, StageExportRequested:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether the primary flow has ended. Terminal
// conversations still accept commands.
func (s Stage) IsTerminal() bool {
	switch s {
	case StageCompleted, StageStopped, StageConfirmed:
		return true
	default:
		return false
	}
}

func (s Stage) String() string {
	return string(s)
}
