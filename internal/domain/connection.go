package domain

import "time"

type ConnectionStatus string

const (
	ConnectionPending ConnectionStatus = "pending" // Приглашение отправлено, ждём accept
	ConnectionActive  ConnectionStatus = "active"  // Обе стороны подтвердили связь
	ConnectionRevoked ConnectionStatus = "revoked" // Терминальный: разорвана одной из сторон
)

// Scope — закрытый набор capability-грантов, выдаваемых на connection.
type Scope string

const (
	ScopeProfileRead        Scope = "profile.basic.read"
	ScopeAvailabilityRead   Scope = "calendar.availability.read"
	ScopeEventsPropose      Scope = "calendar.events.propose"
	ScopeEventsWriteAuto    Scope = "calendar.events.write.auto"    // Автоматическая запись в календарь
	ScopeEventsWriteConfirm Scope = "calendar.events.write.confirm" // Запись после явного подтверждения
)

// Known проверяет, что значение входит в закрытый набор скоупов.
func (s Scope) Known() bool {
	switch s {
	case ScopeProfileRead, ScopeAvailabilityRead, ScopeEventsPropose,
		ScopeEventsWriteAuto, ScopeEventsWriteConfirm:
		return true
	}
	return false
}

// Connection — взаимная permissioned-связь между двумя принципалами.
// Инвариант: не более одной не-revoked связи на неупорядоченную пару.
type Connection struct {
	ID          string           `json:"id"` // UUID
	RequesterID string           `json:"requester_user_id"`
	TargetID    string           `json:"target_user_id"`
	Status      ConnectionStatus `json:"status"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

// Member проверяет, что userID является стороной связи.
func (c *Connection) Member(userID string) bool {
	return userID == c.RequesterID || userID == c.TargetID
}

// Other возвращает вторую сторону связи относительно userID.
func (c *Connection) Other(userID string) string {
	if userID == c.RequesterID {
		return c.TargetID
	}
	return c.RequesterID
}

// WorkingHours — окно доступности внутри недели.
type WorkingHours struct {
	Start    string         `json:"start"`    // "09:00"
	End      string         `json:"end"`      // "17:00"
	Timezone string         `json:"timezone"` // IANA, например "Europe/Amsterdam"
	Weekdays []time.Weekday `json:"weekdays"` // 0=Sunday ... 6=Saturday
}

// Constraints — структурные предпочтения планирования, согласованные на connection.
// Все поля опциональны: незаданные заменяются дефолтами через методы-аксессоры.
type Constraints struct {
	WorkingHours         *WorkingHours `json:"working_hours,omitempty"`
	MinNoticeHours       *int          `json:"min_notice_hours,omitempty"`
	MinMeetingLengthMins *int          `json:"min_meeting_length_mins,omitempty"`
	MaxMeetingLengthMins *int          `json:"max_meeting_length_mins,omitempty"`
	LocationPreference   *string       `json:"location_preference,omitempty"`
	MaxMeetingsPerWeek   *int          `json:"max_meetings_per_week,omitempty"`
	AutoSchedule         *bool         `json:"auto_schedule,omitempty"`
}

// Дефолты реф-системы для незаданных ограничений.
const (
	DefaultWorkStart      = "09:00"
	DefaultWorkEnd        = "17:00"
	DefaultTimezone       = "UTC"
	DefaultNoticeHours    = 24
	DefaultMinLengthMins  = 15
	DefaultMaxLengthMins  = 120
	DefaultSessionTTLMins = 30
)

// Merge накладывает patch поверх текущих ограничений: заданные поля
// перезаписывают, отсутствующие сохраняются (shallow, last-writer-wins).
func (c Constraints) Merge(patch Constraints) Constraints {
	if patch.WorkingHours != nil {
		c.WorkingHours = patch.WorkingHours
	}
	if patch.MinNoticeHours != nil {
		c.MinNoticeHours = patch.MinNoticeHours
	}
	if patch.MinMeetingLengthMins != nil {
		c.MinMeetingLengthMins = patch.MinMeetingLengthMins
	}
	if patch.MaxMeetingLengthMins != nil {
		c.MaxMeetingLengthMins = patch.MaxMeetingLengthMins
	}
	if patch.LocationPreference != nil {
		c.LocationPreference = patch.LocationPreference
	}
	if patch.MaxMeetingsPerWeek != nil {
		c.MaxMeetingsPerWeek = patch.MaxMeetingsPerWeek
	}
	if patch.AutoSchedule != nil {
		c.AutoSchedule = patch.AutoSchedule
	}
	return c
}

// HoursStart возвращает начало рабочего окна ("HH:MM").
func (c Constraints) HoursStart() string {
	if c.WorkingHours != nil && c.WorkingHours.Start != "" {
		return c.WorkingHours.Start
	}
	return DefaultWorkStart
}

// HoursEnd возвращает конец рабочего окна ("HH:MM").
func (c Constraints) HoursEnd() string {
	if c.WorkingHours != nil && c.WorkingHours.End != "" {
		return c.WorkingHours.End
	}
	return DefaultWorkEnd
}

// Timezone возвращает IANA-таймзону рабочего окна.
func (c Constraints) Timezone() string {
	if c.WorkingHours != nil && c.WorkingHours.Timezone != "" {
		return c.WorkingHours.Timezone
	}
	return DefaultTimezone
}

// WeekdaySet возвращает разрешённые дни недели (дефолт: Пн-Пт).
func (c Constraints) WeekdaySet() map[time.Weekday]bool {
	set := make(map[time.Weekday]bool, 7)
	if c.WorkingHours != nil && len(c.WorkingHours.Weekdays) > 0 {
		for _, d := range c.WorkingHours.Weekdays {
			set[d] = true
		}
		return set
	}
	for d := time.Monday; d <= time.Friday; d++ {
		set[d] = true
	}
	return set
}

// NoticeHours возвращает минимальный notice в часах.
func (c Constraints) NoticeHours() int {
	if c.MinNoticeHours != nil {
		return *c.MinNoticeHours
	}
	return DefaultNoticeHours
}

// MinLengthMins возвращает нижнюю границу длительности встречи.
func (c Constraints) MinLengthMins() int {
	if c.MinMeetingLengthMins != nil {
		return *c.MinMeetingLengthMins
	}
	return DefaultMinLengthMins
}

// MaxLengthMins возвращает верхнюю границу длительности встречи.
func (c Constraints) MaxLengthMins() int {
	if c.MaxMeetingLengthMins != nil {
		return *c.MaxMeetingLengthMins
	}
	return DefaultMaxLengthMins
}

// WeeklyCap возвращает лимит встреч в неделю. 0 — без лимита.
func (c Constraints) WeeklyCap() int {
	if c.MaxMeetingsPerWeek != nil {
		return *c.MaxMeetingsPerWeek
	}
	return 0
}

// ConnectionPermission — один-к-одному с Connection: выданные scopes и
// ограничения планирования. Переписывается целиком при accept.
type ConnectionPermission struct {
	ConnectionID string      `json:"connection_id"`
	Scopes       []Scope     `json:"scopes"`
	Constraints  Constraints `json:"constraints"`
	UpdatedAt    time.Time   `json:"updated_at"`
}

// HasScope проверяет наличие одного скоупа.
func (p *ConnectionPermission) HasScope(s Scope) bool {
	for _, have := range p.Scopes {
		if have == s {
			return true
		}
	}
	return false
}

// HasAnyScope проверяет наличие хотя бы одного из скоупов.
func (p *ConnectionPermission) HasAnyScope(scopes ...Scope) bool {
	for _, s := range scopes {
		if p.HasScope(s) {
			return true
		}
	}
	return false
}
