package store

import (
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/moshimoshi/fukushu/internal/errs"
)

// validate enforces the struct tags on store entities before writes reach
// the driver, so malformed rows are rejected in-process instead of by the
// database.
var validate = validator.New(validator.WithRequiredStructEnabled())

// validationError maps a validator result onto the error taxonomy.
func validationError(entity string, err error) error {
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return errs.Internal(err, "failed to validate %s", entity)
	}
	problems := make([]string, 0, len(verrs))
	for _, fieldErr := range verrs {
		problems = append(problems, fieldErr.Field()+" fails "+fieldErr.Tag())
	}
	return errs.ValidationFailed("invalid %s: %s", entity, strings.Join(problems, ", "))
}

func validateReviewItem(item *ReviewItem) error {
	return validationError("review item", validate.Struct(item))
}

func validateReviewSet(set *ReviewSet) error {
	return validationError("review set", validate.Struct(set))
}

func validateReviewSession(session *ReviewSession) error {
	return validationError("review session", validate.Struct(session))
}

func validateStudyList(list *StudyList) error {
	return validationError("study list", validate.Struct(list))
}

func validateSavedItem(item *SavedItem) error {
	return validationError("saved item", validate.Struct(item))
}

func validateXPAward(award *XPAward) error {
	return validationError("xp award", validate.Struct(award))
}
