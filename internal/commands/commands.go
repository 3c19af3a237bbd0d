package commands

import "github.com/bwmarrin/discordgo"

// Definitions returns the /guard application command tree.
func Definitions() []*discordgo.ApplicationCommand {
	lockLevels := []*discordgo.ApplicationCommandOptionChoice{
		{Name: "soft", Value: "soft"},
		{Name: "medium", Value: "medium"},
		{Name: "hard", Value: "hard"},
		{Name: "raid", Value: "raid"},
	}
	spamLevels := []*discordgo.ApplicationCommandOptionChoice{
		{Name: "low", Value: "low"},
		{Name: "medium", Value: "medium"},
		{Name: "high", Value: "high"},
		{Name: "extreme", Value: "extreme"},
	}

	return []*discordgo.ApplicationCommand{
		{
			Name:        "guard",
			Description: "Manage server protection",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Name:        "status",
					Description: "Show protection status and recent activity",
					Type:        discordgo.ApplicationCommandOptionSubCommand,
				},
				{
					Name:        "lockdown",
					Description: "Lock the server down",
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Options: []*discordgo.ApplicationCommandOption{
						{
							Name:        "level",
							Description: "Lockdown severity",
							Type:        discordgo.ApplicationCommandOptionString,
							Required:    true,
							Choices:     lockLevels,
						},
					},
				},
				{
					Name:        "unlock",
					Description: "Lift the lockdown and restore channel permissions",
					Type:        discordgo.ApplicationCommandOptionSubCommand,
				},
				{
					Name:        "spamlevel",
					Description: "Set the spam sensitivity",
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Options: []*discordgo.ApplicationCommandOption{
						{
							Name:        "level",
							Description: "Messages per 5 seconds before action",
							Type:        discordgo.ApplicationCommandOptionString,
							Required:    true,
							Choices:     spamLevels,
						},
					},
				},
				{
					Name:        "whitelist",
					Description: "Manage the protection whitelist",
					Type:        discordgo.ApplicationCommandOptionSubCommandGroup,
					Options: []*discordgo.ApplicationCommandOption{
						{
							Name:        "add",
							Description: "Exempt a user or role from detection",
							Type:        discordgo.ApplicationCommandOptionSubCommand,
							Options: []*discordgo.ApplicationCommandOption{
								{
									Name:        "user",
									Description: "User to exempt",
									Type:        discordgo.ApplicationCommandOptionUser,
								},
								{
									Name:        "role",
									Description: "Role to exempt",
									Type:        discordgo.ApplicationCommandOptionRole,
								},
							},
						},
						{
							Name:        "remove",
							Description: "Remove a user or role from the whitelist",
							Type:        discordgo.ApplicationCommandOptionSubCommand,
							Options: []*discordgo.ApplicationCommandOption{
								{
									Name:        "user",
									Description: "User to remove",
									Type:        discordgo.ApplicationCommandOptionUser,
								},
								{
									Name:        "role",
									Description: "Role to remove",
									Type:        discordgo.ApplicationCommandOptionRole,
								},
							},
						},
						{
							Name:        "view",
							Description: "Show the current whitelist",
							Type:        discordgo.ApplicationCommandOptionSubCommand,
						},
					},
				},
				{
					Name:        "trust",
					Description: "Add a domain whose links are never flagged",
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Options: []*discordgo.ApplicationCommandOption{
						{
							Name:        "domain",
							Description: "Domain to trust, subdomains included",
							Type:        discordgo.ApplicationCommandOptionString,
							Required:    true,
						},
					},
				},
				{
					Name:        "logchannel",
					Description: "Route protection notices to a channel",
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Options: []*discordgo.ApplicationCommandOption{
						{
							Name:        "channel",
							Description: "Channel for notices",
							Type:        discordgo.ApplicationCommandOptionChannel,
							Required:    true,
						},
					},
				},
				{
					Name:        "endraid",
					Description: "Manually clear raid mode",
					Type:        discordgo.ApplicationCommandOptionSubCommand,
				},
			},
		},
	}
}
