package sqlstore

import (
	"testing"

	_ "github.com/mattn/go-sqlite3"

	"github.com/leaselink/messaging/internal/crypto"
)

var testStore *SQLStore

func SetupTestDB(t *testing.T) {
	codec, err := crypto.NewCodec(crypto.NewDerivedKeyProvider("test-secret"))
	if err != nil {
		t.Fatalf("Failed to build codec: %v", err)
	}
	testStore, err = New("sqlite3", ":memory:", codec)
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
}

func TeardownTestDB() {
	testStore.db.Close()
}
