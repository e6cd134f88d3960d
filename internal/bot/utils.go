package bot

import (
	"errors"
	"fmt"
	"log"
	"regexp"
	"strings"
	"time"

	"timeclock/internal/attendance"

	"github.com/bwmarrin/discordgo"
)

var mentionPattern = regexp.MustCompile(`<@!?(\d+)>`)

// formatLogMessage prefixes a log line with the guild and acting user
func formatLogMessage(guildID, message, user, server string) string {
	var prefix []string
	if server != "" {
		prefix = append(prefix, server)
	}
	if guildID != "" {
		prefix = append(prefix, guildID)
	}
	if user != "" {
		prefix = append(prefix, user)
	}
	if len(prefix) == 0 {
		return message
	}
	return fmt.Sprintf("[%s] %s", strings.Join(prefix, " | "), message)
}

func getServerName(s *discordgo.Session, guildID string) string {
	if guildID == "" {
		return "DM"
	}
	if g, err := s.State.Guild(guildID); err == nil {
		return g.Name
	}
	if g, err := s.Guild(guildID); err == nil {
		return g.Name
	}
	return guildID
}

// hasPermission checks the member's effective channel-independent permissions
func hasPermission(s *discordgo.Session, guildID, userID string, perm int64) bool {
	member, err := s.GuildMember(guildID, userID)
	if err != nil {
		log.Println(formatLogMessage(guildID, fmt.Sprintf("Error getting guild member: %v", err), userID, ""))
		return false
	}
	guild, err := s.Guild(guildID)
	if err != nil {
		log.Println(formatLogMessage(guildID, fmt.Sprintf("Error getting guild: %v", err), userID, ""))
		return false
	}
	if guild.OwnerID == userID {
		return true
	}

	var perms int64
	for _, role := range guild.Roles {
		// @everyone shares the guild's id
		if role.ID == guildID {
			perms |= role.Permissions
			continue
		}
		for _, roleID := range member.Roles {
			if role.ID == roleID {
				perms |= role.Permissions
				break
			}
		}
	}
	if perms&discordgo.PermissionAdministrator != 0 {
		return true
	}
	return perms&perm == perm
}

// isAdmin reports whether the user may run the admin commands in a guild
func isAdmin(s *discordgo.Session, guildID string, userID string) bool {
	if guildID == "" {
		return false
	}
	return hasPermission(s, guildID, userID, discordgo.PermissionManageServer)
}

func interactionUser(i *discordgo.InteractionCreate) *discordgo.User {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User
	}
	return i.User
}

// respondWithError sends an immediate ephemeral error, before any deferral
func respondWithError(s *discordgo.Session, i *discordgo.InteractionCreate, errMsg string) {
	s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: "Error: " + errMsg,
			Flags:   discordgo.MessageFlagsEphemeral,
		},
	})
}

// replyError edits the deferred response with an error
func replyError(s *discordgo.Session, i *discordgo.InteractionCreate, errMsg string) {
	reply(s, i, "Error: "+errMsg)
}

// reply edits the deferred response
func reply(s *discordgo.Session, i *discordgo.InteractionCreate, msg string) {
	if _, err := s.InteractionResponseEdit(i.Interaction, &discordgo.WebhookEdit{Content: &msg}); err != nil {
		log.Println(formatLogMessage(i.GuildID, "Error editing response: "+err.Error(), "", ""))
	}
}

func replyFile(s *discordgo.Session, i *discordgo.InteractionCreate, msg string, file *discordgo.File) {
	if _, err := s.InteractionResponseEdit(i.Interaction, &discordgo.WebhookEdit{
		Content: &msg,
		Files:   []*discordgo.File{file},
	}); err != nil {
		log.Println(formatLogMessage(i.GuildID, "Error sending file: "+err.Error(), "", ""))
	}
}

// logCommand logs command execution with its options
func logCommand(s *discordgo.Session, i *discordgo.InteractionCreate, commandName string) {
	username := "unknown"
	if u := interactionUser(i); u != nil {
		username = u.Username
	}

	var params []string
	for _, opt := range i.ApplicationCommandData().Options {
		switch opt.Type {
		case discordgo.ApplicationCommandOptionString:
			params = append(params, fmt.Sprintf("%s:%s", opt.Name, opt.StringValue()))
		case discordgo.ApplicationCommandOptionUser:
			params = append(params, fmt.Sprintf("%s:%v", opt.Name, opt.Value))
		}
	}

	msg := fmt.Sprintf("executed /%s", commandName)
	if len(params) > 0 {
		msg += fmt.Sprintf(" [%s]", strings.Join(params, ", "))
	}
	log.Println(formatLogMessage(i.GuildID, msg, username, getServerName(s, i.GuildID)))
}

// userMessage turns a controller error into something to show the member
func userMessage(err error) string {
	switch {
	case errors.Is(err, attendance.ErrAlreadyClockedIn):
		return "You have already clocked in today"
	case errors.Is(err, attendance.ErrNoClockInYet):
		return "You have not clocked in today"
	case errors.Is(err, attendance.ErrAlreadyClockedOut):
		return "You have already clocked out today"
	case errors.Is(err, attendance.ErrStoreUnavailable):
		return "Attendance is temporarily unavailable, please try again"
	case errors.Is(err, attendance.ErrNotAuthenticated):
		return "Could not determine who you are"
	}
	return "Something went wrong"
}

// parseMentions extracts Discord user ids from "<@id>" mentions, in order
// and without duplicates
func parseMentions(s string) []string {
	seen := map[string]bool{}
	var ids []string
	for _, m := range mentionPattern.FindAllStringSubmatch(s, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			ids = append(ids, m[1])
		}
	}
	return ids
}

// periodRange resolves a period choice against now's calendar
func periodRange(period string, now time.Time) (attendance.DateRange, error) {
	today := attendance.DateOf(now)
	switch period {
	case "today":
		return attendance.DateRange{From: today, To: today}, nil
	case "week":
		return attendance.DateRange{From: attendance.DateOf(now.AddDate(0, 0, -6)), To: today}, nil
	case "this_month", "month":
		return attendance.MonthRange(now.Year(), now.Month()), nil
	case "last_month":
		return monthsAgo(now, 1), nil
	case "month_2", "month_3", "month_4", "month_5", "month_6":
		return monthsAgo(now, int(period[len(period)-1]-'0')), nil
	}
	return attendance.DateRange{}, fmt.Errorf("invalid time period %q", period)
}

func monthsAgo(now time.Time, n int) attendance.DateRange {
	first := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, -n, 0)
	return attendance.MonthRange(first.Year(), first.Month())
}

func formatClock(t *time.Time, loc *time.Location) string {
	if t == nil {
		return "-"
	}
	return t.In(loc).Format("15:04")
}

// formatTable creates a Discord-friendly table with fixed-width columns
func formatTable(headers []string, rows [][]string) string {
	widths := make([]int, len(headers))
	for i, header := range headers {
		widths[i] = len(header)
	}
	for _, row := range rows {
		for i, cell := range row {
			if i < len(widths) && len(cell) > widths[i] {
				widths[i] = len(cell)
			}
		}
	}

	var result strings.Builder
	result.WriteString("```\n")
	for i, header := range headers {
		result.WriteString(fmt.Sprintf("%-*s", widths[i]+2, header))
	}
	result.WriteString("\n")
	for _, width := range widths {
		result.WriteString(strings.Repeat("-", width+2))
	}
	result.WriteString("\n")
	for _, row := range rows {
		for i, cell := range row {
			if i < len(widths) {
				result.WriteString(fmt.Sprintf("%-*s", widths[i]+2, cell))
			}
		}
		result.WriteString("\n")
	}
	result.WriteString("```")
	return result.String()
}

// truncateString shortens s to maxLen, marking the cut with "..."
func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
