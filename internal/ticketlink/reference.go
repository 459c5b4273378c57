package ticketlink

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Host is the helpdesk host every subdomain lives under.
const Host = "zendesk.com"

var (
	apiTicketPattern = regexp.MustCompile(`^https://([a-z0-9][a-z0-9-]*)\.zendesk\.com/api/v2/tickets/(\d+)\.json$`)
	webTicketPattern = regexp.MustCompile(`^https://([a-z0-9][a-z0-9-]*)\.zendesk\.com/agent/tickets/(\d+)$`)
	apiUserPattern   = regexp.MustCompile(`^https://([a-z0-9][a-z0-9-]*)\.zendesk\.com/api/v2/users/(\d+)\.json$`)
)

// TicketReference identifies one ticket in one helpdesk account.
// Status is transient: it rides along when a status is propagated with the
// reference and is not part of the reference's identity.
type TicketReference struct {
	Subdomain string
	TicketID  int64
	Status    string
}

// ParseTicketReference accepts the API URL and the agent web URL forms.
// Anything else, including ids that overflow int64, yields false.
func ParseTicketReference(raw string) (TicketReference, bool) {
	raw = strings.TrimSpace(raw)
	for _, pattern := range []*regexp.Regexp{apiTicketPattern, webTicketPattern} {
		subdomain, id, ok := matchIDURL(pattern, raw)
		if ok {
			return TicketReference{Subdomain: subdomain, TicketID: id}, true
		}
	}
	return TicketReference{}, false
}

// String returns the canonical API form stored as a link's external id.
func (r TicketReference) String() string {
	return fmt.Sprintf("https://%s.%s/api/v2/tickets/%d.json", r.Subdomain, Host, r.TicketID)
}

// WebURL returns the agent UI form of the reference.
func (r TicketReference) WebURL() string {
	return fmt.Sprintf("https://%s.%s/agent/tickets/%d", r.Subdomain, Host, r.TicketID)
}

// Equal compares by subdomain and ticket id only.
func (r TicketReference) Equal(other TicketReference) bool {
	return strings.EqualFold(r.Subdomain, other.Subdomain) && r.TicketID == other.TicketID
}

// WithStatus returns a copy carrying the given transient status.
func (r TicketReference) WithStatus(status string) TicketReference {
	r.Status = status
	return r
}

// UserReference identifies a helpdesk user.
type UserReference struct {
	Subdomain string
	UserID    int64
}

func ParseUserReference(raw string) (UserReference, bool) {
	subdomain, id, ok := matchIDURL(apiUserPattern, strings.TrimSpace(raw))
	if !ok {
		return UserReference{}, false
	}
	return UserReference{Subdomain: subdomain, UserID: id}, true
}

func (r UserReference) String() string {
	return fmt.Sprintf("https://%s.%s/api/v2/users/%d.json", r.Subdomain, Host, r.UserID)
}

func matchIDURL(pattern *regexp.Regexp, raw string) (string, int64, bool) {
	m := pattern.FindStringSubmatch(strings.ToLower(raw))
	if m == nil {
		return "", 0, false
	}
	id, err := strconv.ParseInt(m[2], 10, 64)
	if err != nil || id <= 0 {
		return "", 0, false
	}
	return m[1], id, true
}
