package bot

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"timeclock/internal/attendance"
	"timeclock/internal/db/models"

	"github.com/bwmarrin/discordgo"
	"github.com/google/uuid"
)

var (
	periodChoices = []*discordgo.ApplicationCommandOptionChoice{
		{Name: "Today", Value: "today"},
		{Name: "Last 7 Days", Value: "week"},
		{Name: "This Month", Value: "this_month"},
		{Name: "Last Month", Value: "last_month"},
		{Name: "2 Months Ago", Value: "month_2"},
		{Name: "3 Months Ago", Value: "month_3"},
		{Name: "4 Months Ago", Value: "month_4"},
		{Name: "5 Months Ago", Value: "month_5"},
		{Name: "6 Months Ago", Value: "month_6"},
	}

	commands = []*discordgo.ApplicationCommand{
		{
			Name:        "clockin",
			Description: "Clock in for today",
		},
		{
			Name:        "clockout",
			Description: "Clock out for today",
		},
		{
			Name:        "status",
			Description: "Show your attendance for today",
		},
		{
			Name:        "history",
			Description: "Show your attendance history",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "period",
					Description: "Time period",
					Required:    true,
					Choices:     periodChoices,
				},
			},
		},
		{
			Name:        "timezone",
			Description: "Set your timezone",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "zone",
					Description: "Timezone (e.g., America/New_York, Europe/London)",
					Required:    true,
				},
			},
		},
		{
			Name:        "roster",
			Description: "Show who is clocked in today",
		},
		{
			Name:                     "team",
			Description:              "Clock several members in or out at once (admin only)",
			DefaultMemberPermissions: &adminPermission,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "action",
					Description: "What to do",
					Required:    true,
					Choices: []*discordgo.ApplicationCommandOptionChoice{
						{Name: "Clock in", Value: "clockin"},
						{Name: "Clock out", Value: "clockout"},
					},
				},
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "users",
					Description: "Members to include, as @mentions",
					Required:    true,
				},
			},
		},
		{
			Name:                     "schedule",
			Description:              "Set a member's expected start time (admin only)",
			DefaultMemberPermissions: &adminPermission,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionUser,
					Name:        "user",
					Description: "Member",
					Required:    true,
				},
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "start",
					Description: "Expected start as HH:MM in their timezone, or \"none\" to clear",
					Required:    true,
				},
			},
		},
		{
			Name:        "report",
			Description: "Show attendance for this server",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "period",
					Description: "Time period",
					Required:    true,
					Choices:     periodChoices,
				},
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "format",
					Description: "Output format (files available for admins only)",
					Required:    false,
					Choices: []*discordgo.ApplicationCommandOptionChoice{
						{Name: "Text", Value: "text"},
						{Name: "CSV", Value: "csv"},
						{Name: "Excel", Value: "xlsx"},
					},
				},
				{
					Type:        discordgo.ApplicationCommandOptionUser,
					Name:        "user",
					Description: "Only this member",
					Required:    false,
				},
			},
		},
	}

	// Permission for admin commands (Manage Server permission)
	adminPermission = int64(discordgo.PermissionManageServer)
)

func optionString(i *discordgo.InteractionCreate, name string) string {
	for _, opt := range i.ApplicationCommandData().Options {
		if opt.Name == name && opt.Type == discordgo.ApplicationCommandOptionString {
			return strings.TrimSpace(opt.StringValue())
		}
	}
	return ""
}

// failed logs err and reports it to the member
func failed(s *discordgo.Session, i *discordgo.InteractionCreate, op string, err error) {
	username := ""
	if u := interactionUser(i); u != nil {
		username = u.Username
	}
	log.Println(formatLogMessage(i.GuildID, fmt.Sprintf("%s: %v", op, err), username, ""))
	replyError(s, i, userMessage(err))
}

func (b *Bot) handleClockIn(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate) {
	emp, err := b.employeeFor(ctx, i.GuildID, i.Member.User)
	if err != nil {
		failed(s, i, "clock in", err)
		return
	}

	entry, err := b.attendanceSession(emp).ClockIn(ctx)
	if err != nil {
		failed(s, i, "clock in", err)
		return
	}

	msg := fmt.Sprintf("Clocked in at %s (%s)", formatClock(entry.ClockIn, emp.Location()), emp.Timezone)
	if entry.Status == attendance.StatusLate {
		msg += "\nYou are marked late today."
	}
	reply(s, i, msg)
}

func (b *Bot) handleClockOut(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate) {
	emp, err := b.employeeFor(ctx, i.GuildID, i.Member.User)
	if err != nil {
		failed(s, i, "clock out", err)
		return
	}

	entry, err := b.attendanceSession(emp).ClockOut(ctx)
	if err != nil {
		failed(s, i, "clock out", err)
		return
	}

	worked := attendance.EntryDuration(entry, b.svc.Now(emp.Location()))
	reply(s, i, fmt.Sprintf("Clocked out at %s\nWorked today: %s",
		formatClock(entry.ClockOut, emp.Location()), attendance.FormatHM(worked)))
}

func (b *Bot) handleStatus(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate) {
	emp, err := b.employeeFor(ctx, i.GuildID, i.Member.User)
	if err != nil {
		failed(s, i, "status", err)
		return
	}

	sess := b.attendanceSession(emp)
	if err := sess.Load(ctx); err != nil {
		failed(s, i, "status", err)
		return
	}

	loc := emp.Location()
	today := sess.Today()
	var msg strings.Builder
	fmt.Fprintf(&msg, "**%s** (%s)\n", b.svc.TodayFor(sess.Subject()), emp.Timezone)
	switch sess.State() {
	case attendance.NoEntryToday:
		msg.WriteString("Not clocked in yet")
	case attendance.ClockedIn:
		fmt.Fprintf(&msg, "Clocked in at %s, %s so far", formatClock(today.ClockIn, loc), attendance.FormatHM(sess.Worked()))
	case attendance.ClockedOut:
		fmt.Fprintf(&msg, "Clocked in at %s, out at %s\nWorked: %s",
			formatClock(today.ClockIn, loc), formatClock(today.ClockOut, loc), attendance.FormatHM(sess.Worked()))
	}
	if today != nil {
		fmt.Fprintf(&msg, "\nStatus: %s", today.Status)
		if today.BreakMinutes > 0 {
			fmt.Fprintf(&msg, "\nBreak allowance: %d min", today.BreakMinutes)
		}
		if today.Notes != "" {
			fmt.Fprintf(&msg, "\nNotes: %s", today.Notes)
		}
	}
	reply(s, i, msg.String())
}

func (b *Bot) handleHistory(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate) {
	emp, err := b.employeeFor(ctx, i.GuildID, i.Member.User)
	if err != nil {
		failed(s, i, "history", err)
		return
	}
	loc := emp.Location()

	r, err := periodRange(optionString(i, "period"), b.svc.Now(loc))
	if err != nil {
		replyError(s, i, err.Error())
		return
	}

	sess := b.attendanceSession(emp)
	if err := sess.SetHistoryWindow(ctx, &r); err != nil {
		failed(s, i, "history", err)
		return
	}
	entries := sess.History()
	if len(entries) == 0 {
		reply(s, i, fmt.Sprintf("No attendance recorded between %s and %s", r.From, r.To))
		return
	}

	now := b.svc.Now(loc)
	var total time.Duration
	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		d := attendance.EntryDuration(e, now)
		total += d
		rows = append(rows, []string{
			e.Date.String(),
			formatClock(e.ClockIn, loc),
			formatClock(e.ClockOut, loc),
			attendance.FormatClock(d),
			string(e.Status),
		})
	}
	reply(s, i, fmt.Sprintf("# History %s to %s\n%s\nTotal worked: %s",
		r.From, r.To,
		formatTable([]string{"DATE", "IN", "OUT", "WORKED", "STATUS"}, rows),
		attendance.FormatHM(total)))
}

func (b *Bot) handleTimezone(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate) {
	timezone := optionString(i, "zone")
	if _, err := time.LoadLocation(timezone); err != nil || timezone == "" {
		replyError(s, i, "Invalid timezone. Please use a valid timezone like 'America/New_York' or 'Europe/London'")
		return
	}

	emp, err := b.employeeFor(ctx, i.GuildID, i.Member.User)
	if err != nil {
		failed(s, i, "timezone", err)
		return
	}
	if err := b.dir.UpdateEmployeeTimezone(ctx, emp.ID, timezone); err != nil {
		failed(s, i, "timezone", &attendance.StoreError{Op: "update timezone", Err: err})
		return
	}
	b.forgetSession(emp.ID)

	reply(s, i, fmt.Sprintf("Timezone updated to %s", timezone))
}

func (b *Bot) handleRoster(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate) {
	employees, err := b.dir.GetGuildEmployees(ctx, i.GuildID)
	if err != nil {
		failed(s, i, "roster", &attendance.StoreError{Op: "list guild employees", Err: err})
		return
	}
	if len(employees) == 0 {
		reply(s, i, "Nobody in this server has used the bot yet")
		return
	}

	rows, err := b.roster(ctx, employees)
	if err != nil {
		failed(s, i, "roster", err)
		return
	}
	reply(s, i, "# Today\n"+formatTable([]string{"", "MEMBER", "IN", "OUT", "WORKED"}, rows))
}

// roster renders each employee's entry for their own "today". Employees
// are grouped by date because timezones can put them on different days.
func (b *Bot) roster(ctx context.Context, employees []*models.Employee) ([][]string, error) {
	byDate := map[attendance.Date][]uuid.UUID{}
	for _, emp := range employees {
		d := b.svc.TodayFor(attendance.Subject{ID: emp.ID, Location: emp.Location()})
		byDate[d] = append(byDate[d], emp.ID)
	}
	entries := map[uuid.UUID]*attendance.Entry{}
	for d, ids := range byDate {
		day, err := b.svc.Day(ctx, ids, d)
		if err != nil {
			return nil, err
		}
		for _, e := range day {
			entries[e.SubjectID] = e
		}
	}

	rows := make([][]string, 0, len(employees))
	for _, emp := range employees {
		loc := emp.Location()
		e := entries[emp.ID]
		marker := "○"
		switch attendance.StateOf(e) {
		case attendance.ClockedIn:
			marker = "●"
		case attendance.ClockedOut:
			marker = "✓"
		}
		rows = append(rows, []string{
			marker,
			truncateString(emp.Username, 20),
			formatClock(clockIn(e), loc),
			formatClock(clockOut(e), loc),
			attendance.FormatClock(attendance.EntryDuration(e, b.svc.Now(loc))),
		})
	}
	return rows, nil
}

func clockIn(e *attendance.Entry) *time.Time {
	if e == nil {
		return nil
	}
	return e.ClockIn
}

func clockOut(e *attendance.Entry) *time.Time {
	if e == nil {
		return nil
	}
	return e.ClockOut
}

func (b *Bot) handleTeam(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate) {
	if !isAdmin(s, i.GuildID, i.Member.User.ID) {
		replyError(s, i, "Only administrators can run team actions")
		return
	}
	action := optionString(i, "action")
	ids := parseMentions(optionString(i, "users"))
	if len(ids) == 0 {
		replyError(s, i, "Mention at least one member, e.g. @alice @bob")
		return
	}

	resolved := i.ApplicationCommandData().Resolved
	subjects := make([]attendance.Subject, 0, len(ids))
	names := make(map[uuid.UUID]string, len(ids))
	var problems []string
	for _, id := range ids {
		u := mentionedUser(s, resolved, id)
		if u == nil {
			problems = append(problems, fmt.Sprintf("<@%s>: unknown member", id))
			continue
		}
		emp, err := b.employeeFor(ctx, i.GuildID, u)
		if err != nil {
			problems = append(problems, fmt.Sprintf("%s: %s", u.Username, userMessage(err)))
			continue
		}
		names[emp.ID] = emp.Username
		subjects = append(subjects, attendance.Subject{ID: emp.ID, Location: emp.Location()})
	}

	var result attendance.BatchResult
	switch action {
	case "clockin":
		result = b.svc.BatchClockIn(ctx, subjects)
	case "clockout":
		result = b.svc.BatchClockOut(ctx, subjects)
	default:
		replyError(s, i, "Unknown action")
		return
	}

	var msg strings.Builder
	fmt.Fprintf(&msg, "Team %s: %d succeeded, %d failed\n", action, len(result.Succeeded()), len(result.Failed())+len(problems))
	for _, o := range result.Outcomes {
		if o.Err != nil {
			fmt.Fprintf(&msg, "✗ %s: %s\n", names[o.SubjectID], teamMessage(o.Err))
		} else {
			fmt.Fprintf(&msg, "✓ %s\n", names[o.SubjectID])
		}
		b.forgetSession(o.SubjectID)
	}
	for _, p := range problems {
		fmt.Fprintf(&msg, "✗ %s\n", p)
	}
	log.Println(formatLogMessage(i.GuildID, fmt.Sprintf("Team %s: %d ok, %d failed", action, len(result.Succeeded()), len(result.Failed())), i.Member.User.Username, ""))
	reply(s, i, msg.String())
}

// teamMessage phrases controller errors for a third person
func teamMessage(err error) string {
	switch {
	case errors.Is(err, attendance.ErrAlreadyClockedIn):
		return "already clocked in"
	case errors.Is(err, attendance.ErrNoClockInYet):
		return "not clocked in"
	case errors.Is(err, attendance.ErrAlreadyClockedOut):
		return "already clocked out"
	}
	return strings.ToLower(userMessage(err))
}

func mentionedUser(s *discordgo.Session, resolved *discordgo.ApplicationCommandInteractionDataResolved, id string) *discordgo.User {
	if resolved != nil {
		if u, ok := resolved.Users[id]; ok {
			return u
		}
	}
	u, err := s.User(id)
	if err != nil {
		return nil
	}
	return u
}

func (b *Bot) handleSchedule(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate) {
	if !isAdmin(s, i.GuildID, i.Member.User.ID) {
		replyError(s, i, "Only administrators can change schedules")
		return
	}

	var target *discordgo.User
	for _, opt := range i.ApplicationCommandData().Options {
		if opt.Name == "user" {
			target = opt.UserValue(s)
		}
	}
	if target == nil {
		replyError(s, i, "Unknown member")
		return
	}
	emp, err := b.employeeFor(ctx, i.GuildID, target)
	if err != nil {
		failed(s, i, "schedule", err)
		return
	}

	start := optionString(i, "start")
	if strings.EqualFold(start, "none") {
		if err := b.svc.ClearSchedule(ctx, emp.ID); err != nil {
			failed(s, i, "schedule", err)
			return
		}
		reply(s, i, fmt.Sprintf("Cleared %s's expected start", emp.Username))
		return
	}

	tod, err := attendance.ParseTimeOfDay(start)
	if err != nil {
		replyError(s, i, "Start must look like 09:00")
		return
	}
	if _, err := b.svc.SetSchedule(ctx, emp.ID, tod); err != nil {
		failed(s, i, "schedule", err)
		return
	}
	reply(s, i, fmt.Sprintf("%s is expected at %s (%s), late after %d minutes",
		emp.Username, tod, emp.Timezone, int(b.svc.Grace()/time.Minute)))
}
