package bot

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"strconv"

	"timeclock/internal/attendance"
	"timeclock/internal/db/models"
	"timeclock/internal/report"

	"github.com/bwmarrin/discordgo"
)

// Discord rejects messages over 2000 characters
const maxMessageLen = 1900

func (b *Bot) handleReport(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate) {
	period := optionString(i, "period")
	format := optionString(i, "format")
	if format == "" {
		format = "text"
	}
	var filter *discordgo.User
	for _, opt := range i.ApplicationCommandData().Options {
		if opt.Name == "user" {
			filter = opt.UserValue(s)
		}
	}

	if format != "text" && !isAdmin(s, i.GuildID, i.Member.User.ID) {
		log.Println(formatLogMessage(i.GuildID, format+" report denied", i.Member.User.Username, ""))
		replyError(s, i, "File reports are only available for administrators")
		return
	}

	employees, err := b.dir.GetGuildEmployees(ctx, i.GuildID)
	if err != nil {
		failed(s, i, "report", &attendance.StoreError{Op: "list guild employees", Err: err})
		return
	}
	if filter != nil {
		employees = only(employees, filter.ID)
		if len(employees) == 0 {
			replyError(s, i, fmt.Sprintf("%s has no attendance in this server", filter.Username))
			return
		}
	}

	// Periods resolve against the calendar of the server's default timezone
	loc := b.defaultLocation()
	r, err := periodRange(period, b.svc.Now(loc))
	if err != nil {
		replyError(s, i, err.Error())
		return
	}

	rows, err := b.reportRows(ctx, employees, r)
	if err != nil {
		failed(s, i, "report", err)
		return
	}

	title := fmt.Sprintf("Attendance %s to %s", r.From, r.To)
	if filter != nil {
		title = fmt.Sprintf("Attendance for %s, %s to %s", filter.Username, r.From, r.To)
	}
	name := fmt.Sprintf("attendance_%s_%s", r.From, r.To)

	var buf bytes.Buffer
	switch format {
	case "csv":
		if err := report.WriteCSV(&buf, rows); err != nil {
			failed(s, i, "report", err)
			return
		}
		replyFile(s, i, title, &discordgo.File{
			Name:        name + ".csv",
			ContentType: "text/csv",
			Reader:      &buf,
		})
	case "xlsx":
		if err := report.WriteXLSX(&buf, title, rows); err != nil {
			failed(s, i, "report", err)
			return
		}
		replyFile(s, i, title, &discordgo.File{
			Name:        name + ".xlsx",
			ContentType: "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
			Reader:      &buf,
		})
	default:
		text := report.FormatText(title, rows)
		if len(text) > maxMessageLen {
			text = summaryText(title, report.Summarize(rows))
		}
		reply(s, i, text)
	}
}

func (b *Bot) reportRows(ctx context.Context, employees []*models.Employee, r attendance.DateRange) ([]report.Row, error) {
	people := make([]report.Person, 0, len(employees))
	var entries []*attendance.Entry
	for _, emp := range employees {
		people = append(people, report.Person{ID: emp.ID, Name: emp.Username, Location: emp.Location()})
		history, err := b.svc.History(ctx, emp.ID, &r)
		if err != nil {
			return nil, err
		}
		entries = append(entries, history...)
	}
	return report.BuildRows(people, entries, b.svc.Now(b.defaultLocation())), nil
}

// summaryText is the per-employee fallback when the daily table is too long
// for one message.
func summaryText(title string, summaries []report.Summary) string {
	rows := make([][]string, 0, len(summaries))
	for _, sm := range summaries {
		rows = append(rows, []string{
			truncateString(sm.Name, 20),
			strconv.Itoa(sm.Present),
			strconv.Itoa(sm.Late),
			strconv.Itoa(sm.Absent),
			attendance.FormatHM(sm.Worked),
		})
	}
	return fmt.Sprintf("# %s\n%s\nToo many days to list; use format CSV or Excel for the detail.",
		title, formatTable([]string{"MEMBER", "PRESENT", "LATE", "ABSENT", "WORKED"}, rows))
}

func only(employees []*models.Employee, discordID string) []*models.Employee {
	for _, e := range employees {
		if e.DiscordID == discordID {
			return []*models.Employee{e}
		}
	}
	return nil
}
