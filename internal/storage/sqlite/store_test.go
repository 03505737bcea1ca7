package sqlite

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/Seednode/cardparty/internal/storage"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(t.TempDir() + "/cardparty.db")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func seedUsers(t *testing.T, store *Store, ids ...string) {
	t.Helper()
	for _, id := range ids {
		if err := store.PutUser(context.Background(), storage.User{ID: id, Username: "user-" + id}); err != nil {
			t.Fatalf("put user %s: %v", id, err)
		}
	}
}

func TestOpenIsIdempotent(t *testing.T) {
	path := t.TempDir() + "/cardparty.db"
	for i := 0; i < 2; i++ {
		store, err := Open(path)
		if err != nil {
			t.Fatalf("open #%d: %v", i, err)
		}
		if err := store.Close(); err != nil {
			t.Fatalf("close #%d: %v", i, err)
		}
	}
}

func TestOpenRequiresPath(t *testing.T) {
	if _, err := Open("  "); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestRegularCardIDsExcludesPowerCards(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if err := store.PutCategory(ctx, storage.Category{
		ID:      "cat-1",
		Locales: map[string]storage.CategoryText{"ar": {Name: "ممثلين"}, "en": {Name: "Actors"}},
	}); err != nil {
		t.Fatalf("put category: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := store.PutCard(ctx, storage.Card{ID: fmt.Sprintf("card-%d", i), CategoryID: "cat-1", Text: "x"}); err != nil {
			t.Fatalf("put card: %v", err)
		}
	}
	if err := store.PutCard(ctx, storage.Card{ID: "power-1", CategoryID: "cat-1", Text: "skip", Type: storage.CardPower}); err != nil {
		t.Fatalf("put power card: %v", err)
	}

	ids, err := store.RegularCardIDs(ctx, "cat-1")
	if err != nil {
		t.Fatalf("regular card ids: %v", err)
	}
	want := []string{"card-0", "card-1", "card-2"}
	if fmt.Sprint(ids) != fmt.Sprint(want) {
		t.Fatalf("ids = %v, want %v", ids, want)
	}

	cards, err := store.CardsByIDs(ctx, []string{"card-2", "missing", "card-0"})
	if err != nil {
		t.Fatalf("cards by ids: %v", err)
	}
	if len(cards) != 2 || cards[0].ID != "card-2" || cards[1].ID != "card-0" {
		t.Fatalf("cards = %+v, want card-2, card-0", cards)
	}

	category, err := store.GetCategory(ctx, "cat-1")
	if err != nil {
		t.Fatalf("get category: %v", err)
	}
	if category.Locales["en"].Name != "Actors" {
		t.Fatalf("en name = %q, want Actors", category.Locales["en"].Name)
	}
}

func TestGetMissingRecords(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if _, err := store.GetUser(ctx, "nope"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("get user err = %v, want ErrNotFound", err)
	}
	if _, err := store.GetRoom(ctx, "nope"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("get room err = %v, want ErrNotFound", err)
	}
	if _, err := store.GetCategory(ctx, "nope"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("get category err = %v, want ErrNotFound", err)
	}
}

func TestRoomMembershipLifecycle(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	seedUsers(t, store, "a", "b", "c")

	room, err := store.CreateRoom(ctx, storage.Room{ID: "room-1", Code: "AB12", HostID: "a", RoundGoal: 5})
	if err != nil {
		t.Fatalf("create room: %v", err)
	}
	if room.State != storage.RoomLobby {
		t.Fatalf("state = %s, want lobby", room.State)
	}

	byCode, err := store.GetRoomByCode(ctx, "ab12")
	if err != nil || byCode.ID != "room-1" {
		t.Fatalf("get room by code = %+v, %v; want room-1", byCode, err)
	}

	if _, err := store.CreateRoom(ctx, storage.Room{ID: "room-2", Code: "AB12", HostID: "b", RoundGoal: 5}); !errors.Is(err, storage.ErrAlreadyExists) {
		t.Fatalf("duplicate code err = %v, want ErrAlreadyExists", err)
	}

	if _, err := store.AddPlayer(ctx, "room-1", "b", 3); err != nil {
		t.Fatalf("add b: %v", err)
	}
	if _, err := store.AddPlayer(ctx, "room-1", "b", 3); !errors.Is(err, storage.ErrAlreadyExists) {
		t.Fatalf("re-add b err = %v, want ErrAlreadyExists", err)
	}
	seated, err := store.AddPlayer(ctx, "room-1", "c", 3)
	if err != nil {
		t.Fatalf("add c: %v", err)
	}
	if seated.Seat != 2 {
		t.Fatalf("c seat = %d, want 2", seated.Seat)
	}

	seedUsers(t, store, "d")
	if _, err := store.AddPlayer(ctx, "room-1", "d", 3); !errors.Is(err, storage.ErrRoomFull) {
		t.Fatalf("add d err = %v, want ErrRoomFull", err)
	}
	if _, err := store.AddPlayer(ctx, "room-x", "d", 3); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("add to missing room err = %v, want ErrNotFound", err)
	}

	if _, err := store.CreateRoom(ctx, storage.Room{ID: "room-3", Code: "CL05", HostID: "a", RoundGoal: 5}); err != nil {
		t.Fatalf("create room-3: %v", err)
	}
	if err := store.SetRoomState(ctx, "room-3", storage.RoomDealing); err != nil {
		t.Fatalf("set state: %v", err)
	}
	if _, err := store.AddPlayer(ctx, "room-3", "d", 8); !errors.Is(err, storage.ErrRoomClosed) {
		t.Fatalf("add to dealing room err = %v, want ErrRoomClosed", err)
	}
	if _, err := store.AddPlayer(ctx, "room-3", "a", 8); !errors.Is(err, storage.ErrAlreadyExists) {
		t.Fatalf("re-add member to dealing room err = %v, want ErrAlreadyExists", err)
	}

	players, err := store.ListRoomPlayers(ctx, "room-1")
	if err != nil {
		t.Fatalf("list players: %v", err)
	}
	if len(players) != 3 || players[0].UserID != "a" || players[1].UserID != "b" || players[2].UserID != "c" {
		t.Fatalf("players = %+v, want join order a, b, c", players)
	}
	if players[0].Username != "user-a" {
		t.Fatalf("username = %q, want user-a", players[0].Username)
	}

	for _, id := range []string{"a", "b"} {
		if _, err := store.RemovePlayer(ctx, "room-1", id); err != nil {
			t.Fatalf("remove %s: %v", id, err)
		}
	}
	remaining, err := store.RemovePlayer(ctx, "room-1", "c")
	if err != nil {
		t.Fatalf("remove c: %v", err)
	}
	if remaining != 0 {
		t.Fatalf("remaining = %d, want 0", remaining)
	}
	if _, err := store.GetRoom(ctx, "room-1"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("empty room err = %v, want ErrNotFound", err)
	}
	if _, err := store.RemovePlayer(ctx, "room-1", "c"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("second remove err = %v, want ErrNotFound", err)
	}
}

func TestTurnProgressAndFinish(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	seedUsers(t, store, "a", "b", "c")

	if _, err := store.CreateRoom(ctx, storage.Room{ID: "room-1", Code: "ZZ99", HostID: "a", RoundGoal: 1}); err != nil {
		t.Fatalf("create room: %v", err)
	}
	for _, id := range []string{"b", "c"} {
		if _, err := store.AddPlayer(ctx, "room-1", id, 8); err != nil {
			t.Fatalf("add %s: %v", id, err)
		}
	}

	if err := store.SetTurn(ctx, "room-1", "b"); err != nil {
		t.Fatalf("set turn: %v", err)
	}
	players, err := store.ListRoomPlayers(ctx, "room-1")
	if err != nil {
		t.Fatalf("list players: %v", err)
	}
	for _, p := range players {
		if p.IsTurn != (p.UserID == "b") {
			t.Fatalf("%s is_turn = %v", p.UserID, p.IsTurn)
		}
	}

	progress, err := store.IncrementProgress(ctx, "room-1", "b")
	if err != nil {
		t.Fatalf("increment: %v", err)
	}
	if progress != 1 {
		t.Fatalf("progress = %d, want 1", progress)
	}
	if _, err := store.IncrementProgress(ctx, "room-1", "zz"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("increment missing err = %v, want ErrNotFound", err)
	}

	if err := store.FinishGame(ctx, "room-1", "b"); err != nil {
		t.Fatalf("finish: %v", err)
	}
	room, err := store.GetRoom(ctx, "room-1")
	if err != nil {
		t.Fatalf("get room: %v", err)
	}
	if room.State != storage.RoomEnded {
		t.Fatalf("state = %s, want ended", room.State)
	}

	wantWins := map[string]int{"a": 0, "b": 1, "c": 0}
	wantLosses := map[string]int{"a": 1, "b": 0, "c": 1}
	for id := range wantWins {
		user, err := store.GetUser(ctx, id)
		if err != nil {
			t.Fatalf("get user %s: %v", id, err)
		}
		if user.Wins != wantWins[id] || user.Losses != wantLosses[id] {
			t.Fatalf("%s wins/losses = %d/%d, want %d/%d", id, user.Wins, user.Losses, wantWins[id], wantLosses[id])
		}
	}

	if err := store.FinishGame(ctx, "room-1", "b"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("second finish err = %v, want ErrNotFound", err)
	}
}

func TestPowerUsageIsUniquePerRoomAndPlayer(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	seedUsers(t, store, "a")

	if _, err := store.CreateRoom(ctx, storage.Room{ID: "room-1", Code: "PW01", HostID: "a", RoundGoal: 5}); err != nil {
		t.Fatalf("create room: %v", err)
	}

	used, err := store.HasPowerUsage(ctx, "room-1", "a")
	if err != nil || used {
		t.Fatalf("has usage = %v, %v; want false, nil", used, err)
	}
	if err := store.RecordPowerUsage(ctx, storage.PowerCardUsage{RoomID: "room-1", UserID: "a", Kind: "Skip"}); err != nil {
		t.Fatalf("record usage: %v", err)
	}
	if err := store.RecordPowerUsage(ctx, storage.PowerCardUsage{RoomID: "room-1", UserID: "a", Kind: "DoubleVote"}); !errors.Is(err, storage.ErrAlreadyExists) {
		t.Fatalf("second usage err = %v, want ErrAlreadyExists", err)
	}
	used, err = store.HasPowerUsage(ctx, "room-1", "a")
	if err != nil || !used {
		t.Fatalf("has usage = %v, %v; want true, nil", used, err)
	}
}

func TestAwardPointEndsRoomAtGoal(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	seedUsers(t, store, "a", "b")

	if _, err := store.CreateRoom(ctx, storage.Room{ID: "room-1", Code: "AW01", HostID: "a", RoundGoal: 2}); err != nil {
		t.Fatalf("create room: %v", err)
	}
	if _, err := store.AddPlayer(ctx, "room-1", "b", 8); err != nil {
		t.Fatalf("add b: %v", err)
	}
	if err := store.SetRoomState(ctx, "room-1", storage.RoomPlaying); err != nil {
		t.Fatalf("set state: %v", err)
	}

	progress, err := store.AwardPoint(ctx, "room-1", "b", 2)
	if err != nil || progress != 1 {
		t.Fatalf("first award = %d, %v; want 1, nil", progress, err)
	}
	room, err := store.GetRoom(ctx, "room-1")
	if err != nil {
		t.Fatalf("get room: %v", err)
	}
	if room.State != storage.RoomPlaying {
		t.Fatalf("state after first point = %s, want playing", room.State)
	}

	progress, err = store.AwardPoint(ctx, "room-1", "b", 2)
	if err != nil || progress != 2 {
		t.Fatalf("second award = %d, %v; want 2, nil", progress, err)
	}
	room, err = store.GetRoom(ctx, "room-1")
	if err != nil {
		t.Fatalf("get room: %v", err)
	}
	if room.State != storage.RoomEnded {
		t.Fatalf("state at goal = %s, want ended", room.State)
	}

	winner, err := store.GetUser(ctx, "b")
	if err != nil {
		t.Fatalf("get b: %v", err)
	}
	loser, err := store.GetUser(ctx, "a")
	if err != nil {
		t.Fatalf("get a: %v", err)
	}
	if winner.Wins != 1 || loser.Losses != 1 {
		t.Fatalf("b wins = %d, a losses = %d; want 1, 1", winner.Wins, loser.Losses)
	}

	if _, err := store.AwardPoint(ctx, "room-1", "b", 2); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("award after end err = %v, want ErrNotFound", err)
	}
	players, err := store.ListRoomPlayers(ctx, "room-1")
	if err != nil {
		t.Fatalf("list players: %v", err)
	}
	for _, p := range players {
		if p.UserID == "b" && p.Progress != 2 {
			t.Fatalf("progress after refused award = %d, want 2", p.Progress)
		}
	}
}

func TestPlayPowerCardIsAtomic(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	seedUsers(t, store, "a", "b")

	if _, err := store.CreateRoom(ctx, storage.Room{ID: "room-1", Code: "PP01", HostID: "a", RoundGoal: 5}); err != nil {
		t.Fatalf("create room: %v", err)
	}
	if _, err := store.AddPlayer(ctx, "room-1", "b", 8); err != nil {
		t.Fatalf("add b: %v", err)
	}
	if err := store.SetTurn(ctx, "room-1", "a"); err != nil {
		t.Fatalf("set turn: %v", err)
	}

	turnHolder := func() string {
		t.Helper()
		players, err := store.ListRoomPlayers(ctx, "room-1")
		if err != nil {
			t.Fatalf("list players: %v", err)
		}
		for _, p := range players {
			if p.IsTurn {
				return p.UserID
			}
		}
		return ""
	}

	usage := storage.PowerCardUsage{RoomID: "room-1", UserID: "a", Kind: "Skip", TurnPlayerID: "a"}
	if err := store.PlayPowerCard(ctx, usage, "b"); err != nil {
		t.Fatalf("play: %v", err)
	}
	if got := turnHolder(); got != "b" {
		t.Fatalf("turn = %q, want b", got)
	}
	used, err := store.HasPowerUsage(ctx, "room-1", "a")
	if err != nil || !used {
		t.Fatalf("has usage = %v, %v; want true, nil", used, err)
	}

	// The refused insert must take the turn move down with it.
	if err := store.PlayPowerCard(ctx, usage, "a"); !errors.Is(err, storage.ErrAlreadyExists) {
		t.Fatalf("second play err = %v, want ErrAlreadyExists", err)
	}
	if got := turnHolder(); got != "b" {
		t.Fatalf("turn after refused play = %q, want b", got)
	}

	usage.RoomID = "room-2"
	if err := store.PlayPowerCard(ctx, usage, "a"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("play in missing room err = %v, want ErrNotFound", err)
	}
}

func TestUpSection(t *testing.T) {
	content := "-- +migrate Up\nCREATE TABLE x (id TEXT);\n-- +migrate Down\nDROP TABLE x;\n"
	if got := upSection(content); got != "\nCREATE TABLE x (id TEXT);\n" {
		t.Fatalf("upSection = %q", got)
	}
	if got := upSection("SELECT 1;"); got != "SELECT 1;" {
		t.Fatalf("upSection without markers = %q", got)
	}
}
