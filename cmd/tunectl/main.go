// Package main provides the command line client of the player server.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/joho/godotenv"

	apiconnect "github.com/osa030/19tune/internal/api/connect"
	"github.com/osa030/19tune/internal/app/player"
	"github.com/osa030/19tune/internal/domain/track"
)

var (
	app    = kingpin.New("tunectl", "19tune player client")
	server = app.Flag("server", "Server address").Default("http://localhost:8080").String()
	token  = app.Flag("token", "API token").Envar("API_TOKEN").String()
	user   = app.Flag("user", "Listener user ID").Envar("LISTENER_USER_ID").String()

	playCmd   = app.Command("play", "Play a track")
	playTrack = playCmd.Arg("track-id", "Track ID").Required().String()
	playQueue = playCmd.Arg("queue", "Track IDs of the queue").Strings()

	pauseCmd   = app.Command("pause", "Pause playback")
	resumeCmd  = app.Command("resume", "Resume playback")
	nextCmd    = app.Command("next", "Skip to the next track")
	prevCmd    = app.Command("prev", "Go to the previous track")
	shuffleCmd = app.Command("shuffle", "Toggle shuffle")
	repeatCmd  = app.Command("repeat", "Cycle the repeat mode")

	seekCmd     = app.Command("seek", "Seek in the current track")
	seekSeconds = seekCmd.Arg("seconds", "Position in seconds").Required().Float64()

	volumeCmd   = app.Command("volume", "Set the volume")
	volumeLevel = volumeCmd.Arg("level", "Volume between 0 and 1").Required().Float64()

	likeCmd   = app.Command("like", "Toggle the like status of a track")
	likeTrack = likeCmd.Arg("track-id", "Track ID").Required().String()

	addCmd      = app.Command("add", "Add a track to a playlist")
	addPlaylist = addCmd.Arg("playlist-id", "Playlist ID").Required().String()
	addTrack    = addCmd.Arg("track-id", "Track ID").Required().String()

	removeCmd      = app.Command("remove", "Remove a track from a playlist")
	removePlaylist = removeCmd.Arg("playlist-id", "Playlist ID").Required().String()
	removeTrack    = removeCmd.Arg("track-id", "Track ID").Required().String()

	createCmd         = app.Command("create-playlist", "Create a playlist")
	createTitle       = createCmd.Arg("title", "Title").Required().String()
	createDescription = createCmd.Arg("description", "Description").String()

	refreshCmd = app.Command("refresh", "Reload the library from the catalog")

	searchCmd   = app.Command("search", "Search the catalog")
	searchQuery = searchCmd.Arg("query", "Search query").Required().Strings()
	searchSort  = searchCmd.Flag("sort", "relevance, newest or popular").Default("relevance").Enum("relevance", "newest", "popular")

	enqueueCmd    = app.Command("enqueue", "Append tracks to the queue")
	enqueueTracks = enqueueCmd.Arg("track-ids", "Track IDs").Required().Strings()

	unqueueCmd   = app.Command("unqueue", "Remove a track from the queue")
	unqueueTrack = unqueueCmd.Arg("track-id", "Track ID").Required().String()

	dismissCmd   = app.Command("dismiss", "Dismiss the current error")
	statusCmd    = app.Command("status", "Show the player state")
	subscribeCmd = app.Command("subscribe", "Follow player updates")
)

func main() {
	// Load .env file if it exists (errors are ignored)
	_ = godotenv.Load()

	command := kingpin.MustParse(app.Parse(os.Args[1:]))
	client := apiconnect.NewClient(http.DefaultClient, *server, *token, *user)

	if command == subscribeCmd.FullCommand() {
		subscribe(client)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var err error
	switch command {
	case playCmd.FullCommand():
		err = printResult(client.PlayTrack(ctx, *playTrack, *playQueue))
	case pauseCmd.FullCommand():
		err = printResult(client.Pause(ctx))
	case resumeCmd.FullCommand():
		err = printResult(client.Resume(ctx))
	case nextCmd.FullCommand():
		err = printResult(client.Next(ctx))
	case prevCmd.FullCommand():
		err = printResult(client.Previous(ctx))
	case shuffleCmd.FullCommand():
		var res *apiconnect.ToggleShuffleResponse
		if res, err = client.ToggleShuffle(ctx); err == nil {
			report(res.Result, fmt.Sprintf("Shuffle: %v", res.Shuffled))
		}
	case repeatCmd.FullCommand():
		var res *apiconnect.ToggleRepeatResponse
		if res, err = client.ToggleRepeat(ctx); err == nil {
			report(res.Result, "Repeat: "+res.RepeatMode)
		}
	case seekCmd.FullCommand():
		err = printResult(client.Seek(ctx, *seekSeconds))
	case volumeCmd.FullCommand():
		var res *apiconnect.SetVolumeResponse
		if res, err = client.SetVolume(ctx, *volumeLevel); err == nil {
			report(res.Result, fmt.Sprintf("Volume: %.2f", res.Volume))
		}
	case likeCmd.FullCommand():
		var res *apiconnect.ToggleLikeResponse
		if res, err = client.ToggleLike(ctx, *likeTrack); err == nil {
			report(res.Result, fmt.Sprintf("Liked: %v", res.Liked))
		}
	case addCmd.FullCommand():
		err = printChange(client.AddToPlaylist(ctx, *addPlaylist, *addTrack))
	case removeCmd.FullCommand():
		err = printChange(client.RemoveFromPlaylist(ctx, *removePlaylist, *removeTrack))
	case createCmd.FullCommand():
		var res *apiconnect.CreatePlaylistResponse
		if res, err = client.CreatePlaylist(ctx, *createTitle, *createDescription); err == nil && res.Playlist != nil {
			report(res.Result, fmt.Sprintf("Created playlist %s (%s)", res.Playlist.Title, res.Playlist.ID))
		} else if err == nil {
			report(res.Result, "")
		}
	case refreshCmd.FullCommand():
		err = printResult(client.Refresh(ctx))
	case searchCmd.FullCommand():
		var res *apiconnect.SearchResponse
		if res, err = client.Search(ctx, strings.Join(*searchQuery, " "), *searchSort); err == nil {
			report(res.Result, fmt.Sprintf("%d results", len(res.Tracks)))
			for _, t := range res.Tracks {
				fmt.Printf("  %s\n", formatTrack(t))
			}
		}
	case enqueueCmd.FullCommand():
		err = printResult(client.Enqueue(ctx, *enqueueTracks...))
	case unqueueCmd.FullCommand():
		err = printChange(client.RemoveFromQueue(ctx, *unqueueTrack))
	case dismissCmd.FullCommand():
		err = printResult(client.DismissError(ctx))
	case statusCmd.FullCommand():
		var res *apiconnect.SnapshotResponse
		if res, err = client.GetSnapshot(ctx); err == nil {
			printSnapshot(res.Snapshot)
		}
	}

	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
}

func report(r apiconnect.Result, message string) {
	if !r.OK {
		fmt.Printf("Rejected [%s]: %s\n", r.Code, r.Message)
		return
	}
	if message == "" {
		message = "OK"
	}
	fmt.Println(message)
}

func printResult(r *apiconnect.Result, err error) error {
	if err != nil {
		return err
	}
	report(*r, "")
	return nil
}

func printChange(r *apiconnect.ChangeResponse, err error) error {
	if err != nil {
		return err
	}
	if r.OK && !r.Changed {
		fmt.Println("Nothing changed")
		return nil
	}
	report(r.Result, "")
	return nil
}

func subscribe(client *apiconnect.Client) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream, err := client.Subscribe(ctx)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	defer stream.Close()

	fmt.Println("Subscribed to notifications. Press Ctrl+C to exit.")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Println("\nUnsubscribing...")
		cancel()
	}()

	for stream.Receive() {
		n := stream.Msg()
		fmt.Printf("\n[Sequence: %d] %s\n", n.SequenceNo, strings.ToUpper(n.Type))
		printSnapshot(n.Payload)
	}
	if err := stream.Err(); err != nil && ctx.Err() == nil {
		fmt.Printf("Stream error: %v\n", err)
	}
}

func printSnapshot(s player.Snapshot) {
	fmt.Printf("State: %s", s.State)
	if s.Loading {
		fmt.Print(" (loading)")
	}
	fmt.Println()
	if s.CurrentTrack != nil {
		fmt.Printf("Now playing: %s [%s / %s]\n", formatTrack(*s.CurrentTrack),
			formatSeconds(s.Position), formatSeconds(s.Duration))
	}
	fmt.Printf("Volume: %.2f  Shuffle: %v  Repeat: %s\n", s.Volume, s.Shuffled, s.RepeatMode)
	if len(s.Queue) > 0 {
		fmt.Println("Queue:")
		for i, t := range s.Queue {
			marker := " "
			if i == s.QueueIndex {
				marker = ">"
			}
			fmt.Printf(" %s %2d. %s\n", marker, i+1, formatTrack(t))
		}
	}
	fmt.Printf("Trending: %d  New releases: %d  Liked: %d  Playlists: %d\n",
		len(s.Trending), len(s.NewReleases), len(s.LikedSongs), len(s.Playlists))
	if s.Error != "" {
		fmt.Printf("Error [%s]: %s\n", s.ErrorCode, s.Error)
	}
}

func formatTrack(t track.Track) string {
	like := " "
	if t.IsLiked {
		like = "♥"
	}
	return fmt.Sprintf("%s %s - %s (%s) [%s]", like, t.ArtistName, t.Title, formatSeconds(t.Duration.Seconds()), t.ID)
}

func formatSeconds(sec float64) string {
	d := time.Duration(sec) * time.Second
	return fmt.Sprintf("%d:%02d", int(d.Minutes()), int(d.Seconds())%60)
}
