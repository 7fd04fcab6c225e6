package reaction

import "fmt"

// Kind is the closed set of reaction implementations.
type Kind int

const (
	KindWebhook Kind = iota + 1
	KindLogActivity
	KindDiscordSendMessage
	KindDiscordCreateThread
	KindSpotifyAddToPlaylist
	KindSpotifyLikeSong
	KindSpotifyCreatePlaylist
	KindSpotifyFollowArtist

	kindEnd
)

// Kinds lists every Kind.
func Kinds() []Kind {
	out := make([]Kind, 0, int(kindEnd)-1)
	for k := KindWebhook; k < kindEnd; k++ {
		out = append(out, k)
	}
	return out
}

func (k Kind) String() string {
	switch k {
	case KindWebhook:
		return "send_webhook"
	case KindLogActivity:
		return "log_activity"
	case KindDiscordSendMessage:
		return "discord.send_channel_message"
	case KindDiscordCreateThread:
		return "discord.create_thread"
	case KindSpotifyAddToPlaylist:
		return "spotify.add_to_playlist"
	case KindSpotifyLikeSong:
		return "spotify.like_song"
	case KindSpotifyCreatePlaylist:
		return "spotify.create_playlist"
	case KindSpotifyFollowArtist:
		return "spotify.follow_artist"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Ref names a reaction by its owning service and key.
type Ref struct {
	ServiceSlug string
	Key         string
}

func (r Ref) String() string { return r.ServiceSlug + "." + r.Key }

// Generic reactions resolve under any service slug.
var generic = map[string]Kind{
	"send_webhook": KindWebhook,
	"log_activity": KindLogActivity,
}

// Provider-native reactions resolve only under their owning service.
var native = map[Ref]Kind{
	{"discord", "send_channel_message"}: KindDiscordSendMessage,
	{"discord", "create_thread"}:        KindDiscordCreateThread,
	{"spotify", "add_to_playlist"}:      KindSpotifyAddToPlaylist,
	{"spotify", "like_song"}:            KindSpotifyLikeSong,
	{"spotify", "create_playlist"}:      KindSpotifyCreatePlaylist,
	{"spotify", "follow_artist"}:        KindSpotifyFollowArtist,
}

// Resolve maps a (service, key) pair to its Kind.
func Resolve(ref Ref) (Kind, error) {
	if k, ok := native[ref]; ok {
		return k, nil
	}
	if k, ok := generic[ref.Key]; ok {
		return k, nil
	}
	return 0, &ErrUnknownReaction{Ref: ref}
}

// Refs lists every native (service, key) pair and the generic keys under
// the empty slug. Used by the catalog to check it declares nothing the
// dispatcher cannot run.
func Refs() []Ref {
	out := make([]Ref, 0, len(native)+len(generic))
	for r := range native {
		out = append(out, r)
	}
	for k := range generic {
		out = append(out, Ref{Key: k})
	}
	return out
}
