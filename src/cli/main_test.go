package cli

import (
	"os"
	"testing"

	"unity-references/src/internal/testutil/fakeserver"
)

func TestMain(m *testing.M) {
	fakeserver.RunIfRequested()
	os.Exit(m.Run())
}
