package projection

import (
	"io"
	"os"
	"testing"

	"github.com/plfm/plfm/pkg/eventlog"
	"github.com/plfm/plfm/pkg/log"
)

func TestMain(m *testing.M) {
	log.Init(log.Config{Level: log.ErrorLevel, JSONOutput: true, Output: io.Discard})
	os.Exit(m.Run())
}

func defaultRegistryTypes(t *testing.T) []string {
	t.Helper()
	return eventlog.DefaultRegistry().KnownTypes()
}
