package recordsys

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Fixture is a YAML description of a simulated record system. There is no
// production record-system implementation in this repository; runs operate
// against a fixture dataset through the same Client interface the tests use.
type Fixture struct {
	Staff    []fixtureStaff                `yaml:"staff"`
	PageSize int                           `yaml:"page_size,omitempty"`
	Username string                        `yaml:"username,omitempty"` // Expected credentials; empty accepts anything
	Password string                        `yaml:"password,omitempty"`
	Clients  map[string][]fixtureClient    `yaml:"clients"`   // staff ID -> clients
	Docs     map[string][]fixtureDocument  `yaml:"documents"` // client ID -> documents
	Schedule map[string][]fixtureSchedDate `yaml:"schedule"`  // client ID -> appointments
}

type fixtureStaff struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

type fixtureClient struct {
	ID          string      `yaml:"id"`
	Name        string      `yaml:"name"`
	DateOfBirth fixtureDate `yaml:"date_of_birth,omitempty"`
}

type fixtureDocument struct {
	Label string      `yaml:"label"`
	Date  fixtureDate `yaml:"date"`
}

type fixtureSchedDate struct {
	Date fixtureDate `yaml:"date"`
}

// fixtureDate parses YAML "2006-01-02" cells.
type fixtureDate time.Time

func (d *fixtureDate) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	if raw == "" {
		*d = fixtureDate(time.Time{})
		return nil
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return fmt.Errorf("invalid date %q: %w", raw, err)
	}
	*d = fixtureDate(t)
	return nil
}

// LoadFixture reads a fixture file and builds a scripted client from it. The
// returned client is safe to share across workers.
func LoadFixture(path string) (*ScriptedClient, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read fixture: %w", err)
	}

	var fx Fixture
	if err := yaml.Unmarshal(data, &fx); err != nil {
		return nil, fmt.Errorf("failed to parse fixture YAML: %w", err)
	}
	if len(fx.Staff) == 0 {
		return nil, fmt.Errorf("fixture has no staff entries")
	}

	rs := NewScriptedClient()
	if fx.PageSize > 0 {
		rs.PageSize = fx.PageSize
	}
	if fx.Username != "" {
		rs.RequireCredentials(Credentials{Username: fx.Username, Password: fx.Password})
	}

	for _, s := range fx.Staff {
		if s.ID == "" || s.Name == "" {
			return nil, fmt.Errorf("fixture staff entries need both id and name")
		}
		rs.Staff = append(rs.Staff, StaffRef{ID: s.ID, Name: s.Name})
		rs.ClientsByStaff[s.ID] = nil
	}
	for staffID, clients := range fx.Clients {
		if _, ok := rs.ClientsByStaff[staffID]; !ok {
			return nil, fmt.Errorf("fixture clients reference unknown staff id %q", staffID)
		}
		for _, c := range clients {
			rs.ClientsByStaff[staffID] = append(rs.ClientsByStaff[staffID], ClientRef{
				ID:          c.ID,
				Name:        c.Name,
				DateOfBirth: time.Time(c.DateOfBirth),
			})
		}
	}
	for clientID, docs := range fx.Docs {
		for _, doc := range docs {
			rs.DocumentsByClient[clientID] = append(rs.DocumentsByClient[clientID], RawDocument{
				Label: doc.Label,
				Date:  time.Time(doc.Date),
			})
		}
	}
	for clientID, appts := range fx.Schedule {
		for _, a := range appts {
			rs.ScheduleByClient[clientID] = append(rs.ScheduleByClient[clientID], RawAppointment{
				Date: time.Time(a.Date),
			})
		}
	}

	return rs, nil
}
