package notifier_test

import (
	"errors"
	"testing"
	"time"

	"github.com/effigy/effigy/pkg/logger"
	"github.com/effigy/effigy/pkg/notifier"
)

func TestNew_DisabledSendsNothing(t *testing.T) {
	log := logger.NewSimpleLogger("test", "error")
	n := notifier.New(notifier.Config{Enabled: false}, log)

	// None of these should touch the OS notification stack when disabled.
	n.NotifyBuildStart("api/build")
	n.NotifyBuildSuccess("api/build", 2*time.Second)
	n.NotifyBuildFailure("api/build", errors.New("boom"))
}

func TestNew_EnabledDoesNotPanic(t *testing.T) {
	log := logger.NewSimpleLogger("test", "error")
	n := notifier.New(notifier.Config{Enabled: true}, log)

	n.NotifyBuildStart("api/build")
	n.NotifyBuildSuccess("api/build", 500*time.Millisecond)
	n.NotifyBuildFailure("api/build", errors.New("exit 1"))
}
