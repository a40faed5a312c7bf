package service

import (
	"fmt"
	"time"

	"vaultline/internal/onboarding/models"
)

// Replies are sent verbatim to the person. None of them may echo stored
// personal data back.
const (
	replyConsentPrompt = "Bonjour ! Pour déposer votre idée, nous devons enregistrer votre nom et votre message. " +
		"Acceptez-vous ce traitement de vos données ? Répondez OUI ou NON. Envoyez AIDE pour la liste des commandes."
	replyConsentRefused    = "C'est noté, nous n'enregistrerons rien. Écrivez OUI si vous changez d'avis."
	replyAskName           = "Merci ! Comment vous appelez-vous ?"
	replyInvalidName       = "Ce nom ne semble pas valide. Indiquez un prénom et un nom (lettres uniquement, 80 caractères au plus)."
	replyAskSubmission     = "Merci. Décrivez votre idée en quelques phrases."
	replySubmissionShort   = "Votre message est un peu court. Pouvez-vous détailler votre idée (20 caractères minimum) ?"
	replyAskSecondary      = "Acceptez-vous que votre contribution soit utilisée, de façon anonyme, pour des analyses statistiques ? Répondez OUI ou NON."
	replyYesNo             = "Merci de répondre par OUI ou NON."
	replyAskRetention      = "Combien de temps pouvons-nous conserver vos données ? Répondez 1 (6 mois), 2 (1 an) ou 3 (3 ans)."
	replyInvalidChoice     = "Merci de répondre 1, 2 ou 3."
	replyCompleted         = "Merci, votre contribution est enregistrée ! Envoyez EXPORTER pour recevoir vos données ou SUPPRIMER pour les effacer."
	replyAlreadyDone       = "Votre contribution a déjà été enregistrée. Envoyez EXPORTER ou SUPPRIMER pour gérer vos données."
	replyNoData            = "Nous ne détenons aucune donnée associée à ce numéro."
	replyNothingPending    = "Aucune demande en attente."
	replyDeletionPending   = "Une demande de suppression est en attente. Envoyez CONFIRMER suivi du code, ou ANNULER."
	replyCodeExpired       = "Ce code a expiré, la demande de suppression est annulée. Envoyez SUPPRIMER pour recommencer."
	replyCodeInvalid       = "Code incorrect. Vérifiez le code et réessayez."
	replyDeletionCancelled = "La demande de suppression est annulée. "
	replyCodeLocked        = "Trop de tentatives, la demande de suppression est annulée."
	replyDeleted           = "Vos données ont été supprimées. Vous pouvez recommencer à tout moment en nous écrivant."
	replyStopped           = "C'est noté, nous arrêtons ici. Écrivez OUI pour reprendre."
	replyStoppedIdle       = "La conversation est en pause. Écrivez OUI pour reprendre."
	replyRateLimited       = "Vous envoyez beaucoup de messages. Merci de patienter une minute avant de réessayer."
	replyFailure           = "Une erreur est survenue. Merci de réessayer dans quelques instants."
	replyHelp              = "Commandes disponibles : SUPPRIMER (effacer vos données), EXPORTER (recevoir une copie), " +
		"CONFIRMER <code>, ANNULER, STOP (arrêter), AIDE."
)

func replyDeletionCode(code string, ttl time.Duration) string {
	return fmt.Sprintf("Pour confirmer la suppression définitive de vos données, répondez CONFIRMER %s dans les %d minutes. Envoyez ANNULER pour abandonner.",
		code, int(ttl.Minutes()))
}

func replyExportReady(url string) string {
	return "Vos données sont prêtes : " + url + " (lien temporaire)."
}

// promptFor is the question that moves a conversation forward from stage.
// It is what a resumed conversation repeats.
func promptFor(stage models.Stage) string {
	switch stage {
	case models.StageNeedConsent:
		return replyConsentPrompt
	case models.StageCollectingName:
		return replyAskName
	case models.StageCollectingSubmission:
		return replyAskSubmission
	case models.StageCollectingSecondaryConsent:
		return replyAskSecondary
	case models.StageCollectingRetentionChoice:
		return replyAskRetention
	case models.StageCompleted:
		return replyAlreadyDone
	case models.StageStopped:
		return replyStoppedIdle
	default:
		return replyHelp
	}
}
