package storage

import "time"

// GhostTabID is the tab id given to sessions created from browser history
// rather than observed live.
const GhostTabID int64 = -12

// Session is one contiguous visit to a normalized URL in one tab.
type Session struct {
	ID                     string     `json:"id"`
	TabID                  int64      `json:"tabId"`
	Host                   string     `json:"host"`
	URL                    string     `json:"url"`
	RawURL                 string     `json:"rawUrl"`
	Title                  string     `json:"title,omitempty"`
	ParentSessionID        string     `json:"parentSessionId,omitempty"`
	NextSessionID          string     `json:"nextSessionId,omitempty"`
	TransitionType         string     `json:"transitionType,omitempty"`
	StartedAt              time.Time  `json:"startedAt"`
	EndedAt                *time.Time `json:"endedAt,omitempty"`
	InteractionCount       int64      `json:"interactionCount"`
	LastInteractionAt      *time.Time `json:"lastInteractionAt,omitempty"`
	ChromeVisitID          string     `json:"chromeVisitId,omitempty"`
	ChromeReferringVisitID string     `json:"chromeReferringVisitId,omitempty"`
}

// Open reports whether the session has not ended.
func (s *Session) Open() bool { return s.EndedAt == nil }

// SessionWithChildren is a session together with its direct children.
type SessionWithChildren struct {
	Session
	Children []Session `json:"children"`
}

// TabChange describes a committed top-level navigation.
type TabChange struct {
	TabID          int64  `json:"tabId"`
	URL            string `json:"url" validate:"required"`
	Title          string `json:"title,omitempty"`
	SourceTabID    *int64 `json:"sourceTabId,omitempty"`
	TransitionType string `json:"transitionType,omitempty"`
}

// TabInteraction records user activity on a tab's current page.
type TabInteraction struct {
	TabID int64  `json:"tabId"`
	URL   string `json:"url,omitempty"`
	Title string `json:"title,omitempty"`
}

// ChromeVisit correlates a live session with a browser history visit.
type ChromeVisit struct {
	SessionID        string `json:"sessionId" validate:"required"`
	VisitID          string `json:"visitId" validate:"required"`
	ReferringVisitID string `json:"referringVisitId,omitempty"`
	Transition       string `json:"transition,omitempty"`
}

// GhostVisit is a browser history visit to be recorded as a ghost session.
type GhostVisit struct {
	VisitID          string    `json:"visitId" validate:"required"`
	ReferringVisitID string    `json:"referringVisitId,omitempty"`
	URL              string    `json:"url" validate:"required"`
	Title            string    `json:"title,omitempty"`
	VisitTime        time.Time `json:"visitTime"`
	Transition       string    `json:"transition,omitempty"`
}

// Theme values accepted by Settings.
const (
	ThemeAuto  = "auto"
	ThemeLight = "light"
	ThemeDark  = "dark"
)

// Settings is the singleton preferences record.
type Settings struct {
	ID                    int64     `json:"id"`
	DataCollectionEnabled bool      `json:"dataCollectionEnabled"`
	DevModeEnabled        bool      `json:"devModeEnabled"`
	RetentionPolicyMonths int       `json:"retentionPolicyMonths"`
	Theme                 string    `json:"theme"`
	CreatedAt             time.Time `json:"createdAt"`
	UpdatedAt             time.Time `json:"updatedAt"`
}

// DefaultSettings returns the values a fresh settings row is created with.
func DefaultSettings() Settings {
	return Settings{
		DataCollectionEnabled: true,
		DevModeEnabled:        false,
		RetentionPolicyMonths: 6,
		Theme:                 ThemeAuto,
	}
}

// SettingsPatch updates the fields that are set.
type SettingsPatch struct {
	DataCollectionEnabled *bool   `json:"dataCollectionEnabled,omitempty"`
	DevModeEnabled        *bool   `json:"devModeEnabled,omitempty"`
	RetentionPolicyMonths *int    `json:"retentionPolicyMonths,omitempty" validate:"omitempty,min=1,max=1200"`
	Theme                 *string `json:"theme,omitempty" validate:"omitempty,oneof=auto light dark"`
}

// Stats holds aggregate statistics about the session log.
type Stats struct {
	TotalSessions     int64        `json:"totalSessions"`
	OpenSessions      int64        `json:"openSessions"`
	GhostSessions     int64        `json:"ghostSessions"`
	OldestSession     *time.Time   `json:"oldestSession,omitempty"`
	NewestSession     *time.Time   `json:"newestSession,omitempty"`
	DatabaseSizeBytes int64        `json:"databaseSizeBytes"`
	TopHosts          []HostCount  `json:"topHosts"`
	RecentAudit       []AuditEntry `json:"recentAudit"`
}

// HostCount pairs a host with its session count.
type HostCount struct {
	Host  string `json:"host"`
	Count int64  `json:"count"`
}

// AuditEntry is one row of the maintenance audit log.
type AuditEntry struct {
	ID     int64     `json:"id"`
	Action string    `json:"action"`
	Detail string    `json:"detail"`
	TS     time.Time `json:"ts"`
}
