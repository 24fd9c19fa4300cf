// Package transport defines the chat-facing types shared by the router and
// platform adapters.
package transport

import "context"

// Message is an inbound text message.
type Message struct {
	ID           int
	ChatID       int64
	ThreadID     int
	FromID       int64
	FromUsername string
	Text         string
}

type Update struct {
	Message *Message
}

// BotCommand is one entry of the platform command menu.
type BotCommand struct {
	Command     string
	Description string
}

// Sender delivers plain text to a chat.
type Sender interface {
	SendText(ctx context.Context, chatID int64, text string) error
}

type Adapter interface {
	Sender
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error
}

// MenuUpdater is implemented by adapters that publish a command menu.
type MenuUpdater interface {
	UpdateMenuCommands(ctx context.Context, cmds []BotCommand) error
}
