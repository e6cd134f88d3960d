// Package bot is the Discord front end: slash commands for clocking in and
// out, team operations for admins and attendance reports.
package bot

import (
	"context"
	"fmt"
	"log"
	"runtime"
	"sync"
	"time"

	"timeclock/internal/attendance"
	"timeclock/internal/config"
	"timeclock/internal/db/models"

	"github.com/bwmarrin/discordgo"
	"github.com/google/uuid"
)

const handlerTimeout = 10 * time.Second

// Directory is the employee data the bot needs. Both database backends
// implement it.
type Directory interface {
	GetOrCreateEmployee(ctx context.Context, discordID, username, timezone string) (*models.Employee, error)
	UpdateEmployeeTimezone(ctx context.Context, id uuid.UUID, timezone string) error
	AddGuildMember(ctx context.Context, guildID string, employeeID uuid.UUID) error
	GetGuildEmployees(ctx context.Context, guildID string) ([]*models.Employee, error)
}

type cachedSession struct {
	timezone string
	session  *attendance.Session
}

type Bot struct {
	config     *config.Config
	dir        Directory
	svc        *attendance.Service
	session    *discordgo.Session
	shutdownCh chan struct{}
	isShutdown bool
	mu         sync.Mutex
	wg         sync.WaitGroup

	sessMu   sync.Mutex
	sessions map[uuid.UUID]cachedSession
}

func New(config *config.Config, svc *attendance.Service, dir Directory) (*Bot, error) {
	session, err := discordgo.New("Bot " + config.Discord.Token)
	if err != nil {
		return nil, fmt.Errorf("error creating Discord session: %w", err)
	}

	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMembers |
		discordgo.IntentsGuildMessages

	requiredPermissions := int64(
		discordgo.PermissionViewChannel |
			discordgo.PermissionSendMessages |
			discordgo.PermissionAttachFiles |
			discordgo.PermissionUseSlashCommands)

	config.Discord.Permissions = requiredPermissions

	log.Printf("Bot intents: %d", session.Identify.Intents)
	log.Printf("Bot permissions: %d", config.Discord.Permissions)

	return &Bot{
		config:     config,
		dir:        dir,
		svc:        svc,
		session:    session,
		shutdownCh: make(chan struct{}),
		sessions:   make(map[uuid.UUID]cachedSession),
	}, nil
}

// Helper function to register commands for a guild
func (b *Bot) registerGuildCommands(guildID string) error {
	maxRetries := 3
	var lastErr error

	for i := 0; i < maxRetries; i++ {
		err := b.registerGuildCommandsOnce(guildID)
		if err == nil {
			return nil
		}
		lastErr = err
		log.Printf("Attempt %d to register commands failed: %v", i+1, err)
		time.Sleep(time.Second * time.Duration(i+1))
	}
	return fmt.Errorf("failed to register commands after %d attempts: %w", maxRetries, lastErr)
}

// registerGuildCommandsOnce replaces the guild's command set in one call
func (b *Bot) registerGuildCommandsOnce(guildID string) error {
	serverName := getServerName(b.session, guildID)
	log.Println(formatLogMessage(guildID, "Registering commands", "BOT", serverName))

	registered, err := b.session.ApplicationCommandBulkOverwrite(b.config.Discord.ClientID, guildID, commands)
	if err != nil {
		return fmt.Errorf("error registering commands: %w", err)
	}
	for _, v := range registered {
		log.Println(formatLogMessage(guildID, fmt.Sprintf("%s: Registered command", v.Name), "BOT", serverName))
	}
	return nil
}

func (b *Bot) Start(ctx context.Context) error {
	log.Println("Starting timeclock bot...")

	for {
		log.Println("Testing Discord API connection...")
		if _, err := b.session.User("@me"); err != nil {
			log.Printf("Failed to connect to Discord API: %v. Retrying in 5 seconds...", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(5 * time.Second):
			}
			continue
		}
		log.Println("Successfully connected to Discord API")
		break
	}

	b.session.AddHandler(b.handleReady)
	b.session.AddHandler(func(s *discordgo.Session, i *discordgo.InteractionCreate) {
		if i.Type == discordgo.InteractionApplicationCommand {
			b.handleCommand(s, i)
		}
	})
	b.session.AddHandler(b.handleGuildCreate)

	for {
		if err := b.session.Open(); err != nil {
			log.Printf("Error opening Discord session: %v. Retrying in 5 seconds...", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(5 * time.Second):
			}
			continue
		}
		log.Printf("Session opened successfully (Session ID: %s)", b.session.State.SessionID)
		break
	}

	log.Println("Bot is now running. Press CTRL-C to exit.")

	<-ctx.Done()
	return b.Shutdown()
}

// Shutdown waits for running handlers, then closes the Discord session.
// The store is owned by the caller.
func (b *Bot) Shutdown() error {
	log.Println("Initiating bot shutdown...")

	b.mu.Lock()
	if b.isShutdown {
		b.mu.Unlock()
		return nil
	}
	b.isShutdown = true
	close(b.shutdownCh)
	b.mu.Unlock()

	log.Println("Waiting for active handlers to complete...")
	b.wg.Wait()

	log.Println("Closing Discord session...")
	if err := b.session.Close(); err != nil {
		return fmt.Errorf("error closing Discord session: %w", err)
	}

	log.Println("Bot shutdown completed")
	return nil
}

func (b *Bot) handleReady(s *discordgo.Session, r *discordgo.Ready) {
	log.Printf("Bot is ready! Connected to %d guilds", len(r.Guilds))
}

func (b *Bot) handleGuildCreate(s *discordgo.Session, g *discordgo.GuildCreate) {
	log.Println(formatLogMessage(g.ID, "Guild available", "BOT", g.Name))

	if err := b.registerGuildCommands(g.ID); err != nil {
		log.Println(formatLogMessage(g.ID, fmt.Sprintf("Error registering commands: %v", err), "BOT", g.Name))
	} else {
		log.Println(formatLogMessage(g.ID, "Successfully registered all commands", "BOT", g.Name))
	}
}

// begin registers a running handler unless the bot is shutting down
func (b *Bot) begin() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.isShutdown {
		return false
	}
	b.wg.Add(1)
	return true
}

func (b *Bot) handleCommand(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if !b.begin() {
		respondWithError(s, i, "The bot is shutting down, please try again shortly")
		return
	}
	defer b.wg.Done()

	defer func() {
		if r := recover(); r != nil {
			username := "unknown"
			if u := interactionUser(i); u != nil {
				username = u.Username
			}
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			log.Printf("Panic in command handler for user %s in %s:\nError: %v\nStack Trace:\n%s",
				username, getServerName(s, i.GuildID), r, string(buf[:n]))

			replyError(s, i, "An internal error occurred")
		}
	}()

	commandName := i.ApplicationCommandData().Name

	if i.GuildID == "" {
		respondWithError(s, i, fmt.Sprintf("The `/%s` command can only be used in a server", commandName))
		return
	}
	if i.Member == nil || i.Member.User == nil {
		respondWithError(s, i, "Could not determine user information")
		return
	}
	if !hasPermission(s, i.GuildID, i.Member.User.ID, discordgo.PermissionViewChannel) {
		respondWithError(s, i, "You don't have permission to use this command here")
		return
	}

	// Acknowledge first; store calls may outlast Discord's 3 second window
	err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Flags: discordgo.MessageFlagsEphemeral,
		},
	})
	if err != nil {
		log.Println(formatLogMessage(i.GuildID, "Error acknowledging interaction: "+err.Error(), "", ""))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()

	logCommand(s, i, commandName)

	switch commandName {
	case "clockin":
		b.handleClockIn(ctx, s, i)
	case "clockout":
		b.handleClockOut(ctx, s, i)
	case "status":
		b.handleStatus(ctx, s, i)
	case "history":
		b.handleHistory(ctx, s, i)
	case "timezone":
		b.handleTimezone(ctx, s, i)
	case "roster":
		b.handleRoster(ctx, s, i)
	case "team":
		b.handleTeam(ctx, s, i)
	case "schedule":
		b.handleSchedule(ctx, s, i)
	case "report":
		b.handleReport(ctx, s, i)
	default:
		log.Println(formatLogMessage(i.GuildID, "Unknown command: "+commandName, "", ""))
		replyError(s, i, "Unknown command")
	}
}

// employeeFor resolves a Discord user to an employee and records guild
// membership for rosters.
func (b *Bot) employeeFor(ctx context.Context, guildID string, u *discordgo.User) (*models.Employee, error) {
	emp, err := b.dir.GetOrCreateEmployee(ctx, u.ID, u.Username, b.config.Attendance.DefaultTimezone)
	if err != nil {
		return nil, &attendance.StoreError{Op: "get employee", Err: err}
	}
	if guildID != "" {
		if err := b.dir.AddGuildMember(ctx, guildID, emp.ID); err != nil {
			log.Println(formatLogMessage(guildID, fmt.Sprintf("Error recording guild member: %v", err), u.Username, ""))
		}
	}
	return emp, nil
}

// attendanceSession returns the cached controller session for emp. A
// timezone change replaces it, since "today" moves with it.
func (b *Bot) attendanceSession(emp *models.Employee) *attendance.Session {
	b.sessMu.Lock()
	defer b.sessMu.Unlock()
	if c, ok := b.sessions[emp.ID]; ok && c.timezone == emp.Timezone {
		return c.session
	}
	sess := b.svc.Session(attendance.Subject{ID: emp.ID, Location: emp.Location()})
	b.sessions[emp.ID] = cachedSession{timezone: emp.Timezone, session: sess}
	return sess
}

func (b *Bot) defaultLocation() *time.Location {
	loc, err := time.LoadLocation(b.config.Attendance.DefaultTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func (b *Bot) forgetSession(id uuid.UUID) {
	b.sessMu.Lock()
	defer b.sessMu.Unlock()
	delete(b.sessions, id)
}
