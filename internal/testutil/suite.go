package testutil

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/suite"
)

// DBSuite gives a testify suite its own migrated database. Tables are
// truncated before every test. The suite is skipped with -short, or when
// SKIP_DB_TESTS is set, or when PostgreSQL cannot be reached.
//
// Usage:
//
//	type PlacementSuite struct {
//	    testutil.DBSuite
//	}
//
//	func TestPlacementSuite(t *testing.T) {
//	    suite.Run(t, &PlacementSuite{DBSuite: testutil.DBSuite{Suffix: "placement"}})
//	}
type DBSuite struct {
	suite.Suite
	TestDB *TestDB
	Ctx    context.Context

	// Suffix is part of the generated database name.
	Suffix string
}

// SetupSuite creates the test database.
// If you override this, call s.DBSuite.SetupSuite() first.
func (s *DBSuite) SetupSuite() {
	if testing.Short() || os.Getenv("SKIP_DB_TESTS") != "" {
		s.T().Skip("skipping database integration tests")
	}
	s.Ctx = context.Background()

	suffix := s.Suffix
	if suffix == "" {
		suffix = "suite"
	}
	db, err := SetupTestDB(s.Ctx, suffix)
	if err != nil {
		s.T().Skipf("database not available: %v", err)
	}
	s.TestDB = db
}

// TearDownSuite drops the test database.
func (s *DBSuite) TearDownSuite() {
	if s.TestDB != nil {
		s.TestDB.Close()
	}
}

// SetupTest starts every test from empty tables.
func (s *DBSuite) SetupTest() {
	s.Require().NoError(TruncateTables(s.Ctx, s.TestDB.DB))
}
