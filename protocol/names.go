package protocol

// Names maps the relay's control-event names and channel prefixes, so the
// client can target any relay speaking a Pusher-style protocol. Empty fields
// fall back to DefaultNames.
type Names struct {
	Subscribe             string `koanf:"subscribe" yaml:"subscribe"`
	Unsubscribe           string `koanf:"unsubscribe" yaml:"unsubscribe"`
	ConnectionEstablished string `koanf:"connection_established" yaml:"connection_established"`
	SubscriptionSucceeded string `koanf:"subscription_succeeded" yaml:"subscription_succeeded"`
	SubscriptionError     string `koanf:"subscription_error" yaml:"subscription_error"`
	Error                 string `koanf:"error" yaml:"error"`
	Ping                  string `koanf:"ping" yaml:"ping"`
	Pong                  string `koanf:"pong" yaml:"pong"`
	MemberAdded           string `koanf:"member_added" yaml:"member_added"`
	MemberRemoved         string `koanf:"member_removed" yaml:"member_removed"`
	ClientEventPrefix     string `koanf:"client_event_prefix" yaml:"client_event_prefix"`
	PrivateChannelPrefix  string `koanf:"private_channel_prefix" yaml:"private_channel_prefix"`
	PresenceChannelPrefix string `koanf:"presence_channel_prefix" yaml:"presence_channel_prefix"`
}

// DefaultNames returns the Pusher protocol (version 7) event names.
func DefaultNames() Names {
	return Names{
		Subscribe:             "pusher:subscribe",
		Unsubscribe:           "pusher:unsubscribe",
		ConnectionEstablished: "pusher:connection_established",
		SubscriptionSucceeded: "pusher_internal:subscription_succeeded",
		SubscriptionError:     "pusher:subscription_error",
		Error:                 "pusher:error",
		Ping:                  "pusher:ping",
		Pong:                  "pusher:pong",
		MemberAdded:           "pusher_internal:member_added",
		MemberRemoved:         "pusher_internal:member_removed",
		ClientEventPrefix:     "client-",
		PrivateChannelPrefix:  "private-",
		PresenceChannelPrefix: "presence-",
	}
}

// withDefaults fills empty fields from DefaultNames.
func (n Names) withDefaults() Names {
	d := DefaultNames()
	fill := func(dst *string, def string) {
		if *dst == "" {
			*dst = def
		}
	}
	fill(&n.Subscribe, d.Subscribe)
	fill(&n.Unsubscribe, d.Unsubscribe)
	fill(&n.ConnectionEstablished, d.ConnectionEstablished)
	fill(&n.SubscriptionSucceeded, d.SubscriptionSucceeded)
	fill(&n.SubscriptionError, d.SubscriptionError)
	fill(&n.Error, d.Error)
	fill(&n.Ping, d.Ping)
	fill(&n.Pong, d.Pong)
	fill(&n.MemberAdded, d.MemberAdded)
	fill(&n.MemberRemoved, d.MemberRemoved)
	fill(&n.ClientEventPrefix, d.ClientEventPrefix)
	fill(&n.PrivateChannelPrefix, d.PrivateChannelPrefix)
	fill(&n.PresenceChannelPrefix, d.PresenceChannelPrefix)
	return n
}
