package handlers

import (
	tgbot "github.com/go-telegram/bot"
)

// RegisteredHandler represents a command handler with its middleware.
type RegisteredHandler struct {
	HandlerType tgbot.HandlerType
	Pattern     string
	Handler     tgbot.HandlerFunc
	Middleware  []tgbot.Middleware
	MatchType   tgbot.MatchType
}

// RegisterAllCommands returns the team commands keyed by command. Customer
// messages go to NewInboundHandler, installed as the default handler.
func RegisterAllCommands(deps HandlerDeps) map[string]RegisteredHandler {
	handlers := make(map[string]RegisteredHandler)

	handlers["/start"] = RegisteredHandler{
		HandlerType: tgbot.HandlerTypeMessageText,
		Pattern:     "start",
		Handler:     NewStartHandler(deps),
		MatchType:   tgbot.MatchTypeCommandStartOnly,
	}

	adminMiddleware := []tgbot.Middleware{AdminOnly(deps)}

	if deps.Resolver != nil {
		handlers["/resolve"] = RegisteredHandler{
			HandlerType: tgbot.HandlerTypeMessageText,
			Pattern:     "resolve",
			Handler:     NewResolveHandler(deps),
			MatchType:   tgbot.MatchTypeCommandStartOnly,
			Middleware:  adminMiddleware,
		}
	}
	if deps.Jobs != nil {
		handlers["/jobs"] = RegisteredHandler{
			HandlerType: tgbot.HandlerTypeMessageText,
			Pattern:     "jobs",
			Handler:     NewJobsHandler(deps),
			MatchType:   tgbot.MatchTypeCommandStartOnly,
			Middleware:  adminMiddleware,
		}
	}

	return handlers
}
