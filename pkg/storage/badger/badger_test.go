package badger_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/absmach/fedmob/pkg/storage/badger"
	"github.com/absmach/fedmob/pkg/storage/testutil"
	"github.com/google/uuid"
)

var testDB *badger.Database

func TestMain(m *testing.M) {
	dbPath := filepath.Join(os.TempDir(), "badger_test_"+uuid.NewString())

	var err error
	testDB, err = badger.NewDatabase(dbPath)
	if err != nil {
		panic(err)
	}

	code := m.Run()

	testDB.Close()
	os.RemoveAll(dbPath)

	os.Exit(code)
}

func TestRoundRepository(t *testing.T) {
	testutil.RoundRepository(t, badger.NewRoundRepository(testDB))
}
