package roster

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeRoster(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "roster.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func defaultAliases() map[string]int {
	return map[string]int{
		"weekly":    7,
		"biweekly":  14,
		"bi-weekly": 14,
		"monthly":   28,
	}
}

func TestLoadStaff(t *testing.T) {
	t.Run("loads active and terminated staff", func(t *testing.T) {
		path := writeRoster(t, `Last Name,First Name,Termination/Leave Date
Perez,Ethel,
Smith,John,3/15/2024
`)
		staff, warnings, err := LoadStaff(path)
		require.NoError(t, err)
		assert.Empty(t, warnings)
		require.Len(t, staff, 2)

		assert.Equal(t, "perez, ethel", staff[0].Name)
		assert.Equal(t, StatusActive, staff[0].Status)
		assert.True(t, staff[0].Traversable())

		assert.Equal(t, "smith, john", staff[1].Name)
		assert.Equal(t, StatusTerminated, staff[1].Status)
		assert.False(t, staff[1].Traversable())
	})

	t.Run("future separation date means leave", func(t *testing.T) {
		path := writeRoster(t, `Last Name,First Name,Termination/Leave Date
Smith,Jane,1/1/2099
`)
		staff, _, err := LoadStaff(path)
		require.NoError(t, err)
		require.Len(t, staff, 1)
		assert.Equal(t, StatusLeave, staff[0].Status)
		assert.False(t, staff[0].Traversable())
	})

	t.Run("bad date warns but keeps staff active", func(t *testing.T) {
		path := writeRoster(t, `Last Name,First Name,Termination/Leave Date
Smith,Jane,sometime
`)
		staff, warnings, err := LoadStaff(path)
		require.NoError(t, err)
		require.Len(t, staff, 1)
		assert.Equal(t, StatusActive, staff[0].Status)
		require.Len(t, warnings, 1)
		assert.Contains(t, warnings[0].Reason, "unparseable")
	})

	t.Run("missing column is fatal", func(t *testing.T) {
		path := writeRoster(t, "Surname,Given Name\nPerez,Ethel\n")
		_, _, err := LoadStaff(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "first name")
	})
}

const clientHeader = "Last Name,First Name,Assigned Staff,Cadence,Reassigned,Reassignment/Service File Start Date,Service File Status,Date of Birth\n"

func TestLoadClients(t *testing.T) {
	t.Run("loads a complete row", func(t *testing.T) {
		path := writeRoster(t, clientHeader+
			`Doe,Jane,"Perez, Ethel - Intake",Weekly,,9/1/2025,Open,2/2/1990`+"\n")
		clients, warnings, err := LoadClients(path, defaultAliases())
		require.NoError(t, err)
		assert.Empty(t, warnings)
		require.Len(t, clients, 1)

		c := clients[0]
		assert.Equal(t, "doe, jane", c.Name)
		assert.Equal(t, "perez, ethel", c.Staff)
		assert.Equal(t, 7, c.CadenceDays)
		assert.Equal(t, FileOpen, c.FileStatus)
		assert.False(t, c.Reassigned)
		assert.Equal(t, 2025, c.ServiceStart.Year())
		assert.Equal(t, 1990, c.DateOfBirth.Year())
	})

	t.Run("excludes rows missing cadence", func(t *testing.T) {
		path := writeRoster(t, clientHeader+
			`Doe,Jane,"Perez, Ethel",,,9/1/2025,Open,`+"\n")
		clients, warnings, err := LoadClients(path, defaultAliases())
		require.NoError(t, err)
		assert.Empty(t, clients)
		require.Len(t, warnings, 1)
		assert.Contains(t, warnings[0].Reason, "cadence")
	})

	t.Run("excludes rows missing status", func(t *testing.T) {
		path := writeRoster(t, clientHeader+
			`Doe,Jane,"Perez, Ethel",Weekly,,9/1/2025,,`+"\n")
		clients, warnings, err := LoadClients(path, defaultAliases())
		require.NoError(t, err)
		assert.Empty(t, clients)
		require.Len(t, warnings, 1)
		assert.Contains(t, warnings[0].Reason, "status")
	})

	t.Run("keeps closed files for skip reporting", func(t *testing.T) {
		path := writeRoster(t, clientHeader+
			`Doe,Jane,"Perez, Ethel",Weekly,,9/1/2025,Closed,`+"\n")
		clients, _, err := LoadClients(path, defaultAliases())
		require.NoError(t, err)
		require.Len(t, clients, 1)
		assert.Equal(t, FileClosed, clients[0].FileStatus)
	})

	t.Run("reassignment indicator routes date", func(t *testing.T) {
		path := writeRoster(t, clientHeader+
			`Doe,Jane,"Perez, Ethel",Weekly,Yes,10/20/2025,Open,`+"\n")
		clients, _, err := LoadClients(path, defaultAliases())
		require.NoError(t, err)
		require.Len(t, clients, 1)
		assert.True(t, clients[0].Reassigned)
		assert.Equal(t, 2025, clients[0].ReassignedAt.Year())
		assert.True(t, clients[0].ServiceStart.IsZero())
	})

	t.Run("duplicate rows flagged for manual review", func(t *testing.T) {
		path := writeRoster(t, clientHeader+
			`Doe,Jane,"Perez, Ethel",Weekly,,9/1/2025,Open,`+"\n"+
			`Doe,Jane,"Smith, John",Biweekly,Yes,10/20/2025,Open,`+"\n")
		clients, warnings, err := LoadClients(path, defaultAliases())
		require.NoError(t, err)
		require.Len(t, clients, 2)
		assert.True(t, clients[0].ManualReview)
		assert.True(t, clients[1].ManualReview)
		assert.Contains(t, clients[0].Notes, "duplicate-roster-row")
		require.Len(t, warnings, 1)
		assert.Contains(t, warnings[0].Reason, "roster rows for the same client")
	})

	t.Run("future service start gets a note", func(t *testing.T) {
		path := writeRoster(t, clientHeader+
			`Doe,Jane,"Perez, Ethel",Weekly,,1/1/2099,Open,`+"\n")
		clients, _, err := LoadClients(path, defaultAliases())
		require.NoError(t, err)
		require.Len(t, clients, 1)
		assert.Contains(t, clients[0].Notes, "future-dated service-file start")
	})
}

func TestResolveCadence(t *testing.T) {
	aliases := defaultAliases()

	tests := []struct {
		descriptor string
		want       int
	}{
		{"Weekly", 7},
		{"  bi-weekly ", 14},
		{"Monthly", 28},
		{"every 2 weeks", 14},
		{"10 days", 10},
		{"10", 10},
		{"1x month", 28},
		{"as needed", 0},
		{"", 0},
	}

	for _, tt := range tests {
		t.Run(tt.descriptor, func(t *testing.T) {
			assert.Equal(t, tt.want, ResolveCadence(tt.descriptor, aliases))
		})
	}
}

func TestNormalizeStaffField(t *testing.T) {
	assert.Equal(t, "perez, ethel", NormalizeStaffField("Perez, Ethel"))
	assert.Equal(t, "perez, ethel", NormalizeStaffField("Perez,  Ethel - Intake"))
	assert.Equal(t, "cher", NormalizeStaffField(" Cher "))
}
