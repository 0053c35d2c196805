package store

import (
	"errors"
	"testing"
	"time"

	"github.com/opentavern/tavern/internal/database"
	"github.com/opentavern/tavern/internal/model"
)

func setupEventTestDB(t *testing.T) (*EventStore, *GroupStore, *UserStore, *PermissionStore) {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		t.Fatalf("enable foreign keys: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewEventStore(db), NewGroupStore(db), NewUserStore(db), NewPermissionStore(db)
}

func TestEventCreate(t *testing.T) {
	es, gs, us, ps := setupEventTestDB(t)
	groupOwner := createTestUser(t, us, "alice")
	organizer := createTestUser(t, us, "bob")
	member := createTestUser(t, us, "carol")

	group, err := gs.Create(groupOwner.ID, "Quiz League", "", "quizzers")
	if err != nil {
		t.Fatalf("create group: %v", err)
	}
	if err := gs.AddOrganizers(group.ID, []string{"bob"}); err != nil {
		t.Fatalf("add organizers: %v", err)
	}
	if _, err := gs.ToggleMembership(member.ID, group.ID); err != nil {
		t.Fatalf("join group: %v", err)
	}

	starts := time.Now().Add(24 * time.Hour)
	ends := starts.Add(2 * time.Hour)
	event, err := es.Create(member.ID, group.ID, "Pub Quiz Night!", "weekly quiz", starts, &ends, "The Tavern")
	if err != nil {
		t.Fatalf("create event: %v", err)
	}
	if event.Slug != "pub-quiz-night" {
		t.Errorf("slug = %q, want %q", event.Slug, "pub-quiz-night")
	}
	if event.CreatorID != member.ID {
		t.Errorf("creator_id = %d, want %d", event.CreatorID, member.ID)
	}
	if event.EndsAt == nil {
		t.Error("expected ends_at to be set")
	}
	if !event.Show {
		t.Error("expected new event to be visible")
	}

	// The creator is automatically attending with a "yes" RSVP.
	attendee, err := es.GetAttendee(member.ID, event.ID)
	if err != nil {
		t.Fatalf("get attendee: %v", err)
	}
	if attendee == nil {
		t.Fatal("expected creator attendee record")
	}
	if attendee.RSVPStatus != model.RSVPYes {
		t.Errorf("rsvp_status = %q, want %q", attendee.RSVPStatus, model.RSVPYes)
	}

	// Creator, group creator, and current organizers all hold grants.
	for _, uid := range []int64{member.ID, groupOwner.ID, organizer.ID} {
		for _, perm := range []string{model.PermChange, model.PermDelete} {
			ok, err := ps.CanModify(uid, model.ObjectEvent, event.ID, perm)
			if err != nil {
				t.Fatalf("check permission: %v", err)
			}
			if !ok {
				t.Errorf("expected user %d to hold %s on event", uid, perm)
			}
		}
	}
}

func TestEventCreateRequiresMembership(t *testing.T) {
	es, gs, us, _ := setupEventTestDB(t)
	owner := createTestUser(t, us, "alice")
	outsider := createTestUser(t, us, "bob")

	group, err := gs.Create(owner.ID, "Quiz League", "", "quizzers")
	if err != nil {
		t.Fatalf("create group: %v", err)
	}

	_, err = es.Create(outsider.ID, group.ID, "Crash The Party", "", time.Now().Add(time.Hour), nil, "")
	if !errors.Is(err, ErrNotAMember) {
		t.Errorf("create as outsider error = %v, want ErrNotAMember", err)
	}

	_, err = es.Create(owner.ID, 999, "Nowhere", "", time.Now().Add(time.Hour), nil, "")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("create in missing group error = %v, want ErrNotFound", err)
	}
}

func TestEventSlugScopedToGroup(t *testing.T) {
	es, gs, us, _ := setupEventTestDB(t)
	owner := createTestUser(t, us, "alice")

	first, err := gs.Create(owner.ID, "Quiz League", "", "quizzers")
	if err != nil {
		t.Fatalf("create group: %v", err)
	}
	second, err := gs.Create(owner.ID, "Chess Club", "", "players")
	if err != nil {
		t.Fatalf("create second group: %v", err)
	}

	starts := time.Now().Add(time.Hour)
	a, err := es.Create(owner.ID, first.ID, "Game Night", "", starts, nil, "")
	if err != nil {
		t.Fatalf("create event: %v", err)
	}
	// Same name in a different group reuses the base slug.
	b, err := es.Create(owner.ID, second.ID, "Game Night", "", starts, nil, "")
	if err != nil {
		t.Fatalf("create event in second group: %v", err)
	}
	if a.Slug != "game-night" || b.Slug != "game-night" {
		t.Errorf("slugs = %q, %q, want both %q", a.Slug, b.Slug, "game-night")
	}

	// A colliding slug within the same group gets a suffix.
	c, err := es.Create(owner.ID, first.ID, "Game Night!", "", starts, nil, "")
	if err != nil {
		t.Fatalf("create colliding event: %v", err)
	}
	if c.Slug != "game-night-2" {
		t.Errorf("slug = %q, want %q", c.Slug, "game-night-2")
	}

	got, err := es.GetBySlug(first.ID, "game-night")
	if err != nil {
		t.Fatalf("get by slug: %v", err)
	}
	if got == nil || got.ID != a.ID {
		t.Fatalf("get by slug = %v, want id %d", got, a.ID)
	}

	// Duplicate names inside one group are rejected outright.
	_, err = es.Create(owner.ID, first.ID, "Game Night", "", starts, nil, "")
	if !errors.Is(err, ErrConstraintViolation) {
		t.Errorf("duplicate name error = %v, want ErrConstraintViolation", err)
	}
}

func TestEventUpdate(t *testing.T) {
	es, gs, us, _ := setupEventTestDB(t)
	owner := createTestUser(t, us, "alice")

	group, err := gs.Create(owner.ID, "Quiz League", "", "quizzers")
	if err != nil {
		t.Fatalf("create group: %v", err)
	}
	starts := time.Now().Add(time.Hour)
	event, err := es.Create(owner.ID, group.ID, "Old Title", "", starts, nil, "here")
	if err != nil {
		t.Fatalf("create event: %v", err)
	}

	// Non-name changes keep the slug.
	updated, err := es.Update(event.ID, "Old Title", "new details", starts, nil, "there", false)
	if err != nil {
		t.Fatalf("update event: %v", err)
	}
	if updated.Slug != event.Slug {
		t.Errorf("slug = %q, want unchanged %q", updated.Slug, event.Slug)
	}
	if updated.Show {
		t.Error("expected event hidden after update")
	}
	if updated.Location != "there" {
		t.Errorf("location = %q, want %q", updated.Location, "there")
	}

	// Renaming recomputes the slug within the group.
	renamed, err := es.Update(event.ID, "New Title", "new details", starts, nil, "there", true)
	if err != nil {
		t.Fatalf("rename event: %v", err)
	}
	if renamed.Slug != "new-title" {
		t.Errorf("slug = %q, want %q", renamed.Slug, "new-title")
	}
	if !renamed.Show {
		t.Error("expected event visible again")
	}

	_, err = es.Update(999, "Nope", "", starts, nil, "", true)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("update missing event error = %v, want ErrNotFound", err)
	}
}

func TestEventRejectsEndsBeforeStarts(t *testing.T) {
	es, gs, us, _ := setupEventTestDB(t)
	owner := createTestUser(t, us, "alice")

	group, err := gs.Create(owner.ID, "Quiz League", "", "quizzers")
	if err != nil {
		t.Fatalf("create group: %v", err)
	}

	starts := time.Now().Add(24 * time.Hour)
	ends := starts.Add(-2 * time.Hour)
	_, err = es.Create(owner.ID, group.ID, "Backwards", "", starts, &ends, "")
	if !errors.Is(err, ErrEndsBeforeStarts) {
		t.Errorf("create with ends before starts error = %v, want ErrEndsBeforeStarts", err)
	}
	got, err := es.GetBySlug(group.ID, "backwards")
	if err != nil {
		t.Fatalf("get by slug: %v", err)
	}
	if got != nil {
		t.Error("expected nothing persisted for rejected event")
	}

	event, err := es.Create(owner.ID, group.ID, "Forwards", "", starts, nil, "")
	if err != nil {
		t.Fatalf("create event: %v", err)
	}
	_, err = es.Update(event.ID, event.Name, "", starts, &ends, "", true)
	if !errors.Is(err, ErrEndsBeforeStarts) {
		t.Errorf("update with ends before starts error = %v, want ErrEndsBeforeStarts", err)
	}

	// An end equal to the start is allowed.
	if _, err := es.Update(event.ID, event.Name, "", starts, &starts, "", true); err != nil {
		t.Errorf("update with ends equal to starts: %v", err)
	}
}

func TestEventDeleteCascades(t *testing.T) {
	es, gs, us, ps := setupEventTestDB(t)
	owner := createTestUser(t, us, "alice")
	member := createTestUser(t, us, "bob")

	group, err := gs.Create(owner.ID, "Quiz League", "", "quizzers")
	if err != nil {
		t.Fatalf("create group: %v", err)
	}
	if _, err := gs.ToggleMembership(member.ID, group.ID); err != nil {
		t.Fatalf("join group: %v", err)
	}
	event, err := es.Create(owner.ID, group.ID, "Doomed Event", "", time.Now().Add(time.Hour), nil, "")
	if err != nil {
		t.Fatalf("create event: %v", err)
	}
	if _, err := es.SetRSVP(member.ID, event.ID, model.RSVPNo); err != nil {
		t.Fatalf("set rsvp: %v", err)
	}

	if err := es.Delete(event.ID); err != nil {
		t.Fatalf("delete event: %v", err)
	}

	got, err := es.GetByID(event.ID)
	if err != nil {
		t.Fatalf("get deleted event: %v", err)
	}
	if got != nil {
		t.Error("expected nil event after delete")
	}
	attendee, err := es.GetAttendee(member.ID, event.ID)
	if err != nil {
		t.Fatalf("get attendee: %v", err)
	}
	if attendee != nil {
		t.Error("expected attendee records removed with event")
	}
	ok, err := ps.CanModify(owner.ID, model.ObjectEvent, event.ID, model.PermDelete)
	if err != nil {
		t.Fatalf("check permission: %v", err)
	}
	if ok {
		t.Error("expected grants removed with event")
	}

	if err := es.Delete(event.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("delete missing event error = %v, want ErrNotFound", err)
	}
}

func TestSetRSVPUpserts(t *testing.T) {
	es, gs, us, _ := setupEventTestDB(t)
	owner := createTestUser(t, us, "alice")
	member := createTestUser(t, us, "bob")

	group, err := gs.Create(owner.ID, "Quiz League", "", "quizzers")
	if err != nil {
		t.Fatalf("create group: %v", err)
	}
	if _, err := gs.ToggleMembership(member.ID, group.ID); err != nil {
		t.Fatalf("join group: %v", err)
	}
	event, err := es.Create(owner.ID, group.ID, "Pub Quiz", "", time.Now().Add(time.Hour), nil, "")
	if err != nil {
		t.Fatalf("create event: %v", err)
	}

	first, err := es.SetRSVP(member.ID, event.ID, model.RSVPMaybe)
	if err != nil {
		t.Fatalf("set rsvp: %v", err)
	}
	if first.RSVPStatus != model.RSVPMaybe {
		t.Errorf("rsvp_status = %q, want %q", first.RSVPStatus, model.RSVPMaybe)
	}

	// A second RSVP updates the same record instead of adding one.
	second, err := es.SetRSVP(member.ID, event.ID, model.RSVPYes)
	if err != nil {
		t.Fatalf("update rsvp: %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("attendee id = %d, want same record %d", second.ID, first.ID)
	}
	if second.RSVPStatus != model.RSVPYes {
		t.Errorf("rsvp_status = %q, want %q", second.RSVPStatus, model.RSVPYes)
	}

	all, err := es.AttendeesByStatus(event.ID, "")
	if err != nil {
		t.Fatalf("list attendees: %v", err)
	}
	// Creator plus the one member.
	if len(all) != 2 {
		t.Errorf("attendees = %d, want 2", len(all))
	}

	_, err = es.SetRSVP(member.ID, 999, model.RSVPYes)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("rsvp to missing event error = %v, want ErrNotFound", err)
	}
}

func TestSetRSVPDeletedEvent(t *testing.T) {
	es, gs, us, _ := setupEventTestDB(t)
	owner := createTestUser(t, us, "alice")
	member := createTestUser(t, us, "bob")

	group, err := gs.Create(owner.ID, "Quiz League", "", "quizzers")
	if err != nil {
		t.Fatalf("create group: %v", err)
	}
	if _, err := gs.ToggleMembership(member.ID, group.ID); err != nil {
		t.Fatalf("join group: %v", err)
	}
	event, err := es.Create(owner.ID, group.ID, "Pub Quiz", "", time.Now().Add(time.Hour), nil, "")
	if err != nil {
		t.Fatalf("create event: %v", err)
	}
	if err := es.Delete(event.ID); err != nil {
		t.Fatalf("delete event: %v", err)
	}

	// An RSVP against a deleted event reports NotFound, not a constraint
	// failure.
	_, err = es.SetRSVP(member.ID, event.ID, model.RSVPYes)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("rsvp to deleted event error = %v, want ErrNotFound", err)
	}
}

func TestDeleteRSVP(t *testing.T) {
	es, gs, us, _ := setupEventTestDB(t)
	owner := createTestUser(t, us, "alice")
	member := createTestUser(t, us, "bob")

	group, err := gs.Create(owner.ID, "Quiz League", "", "quizzers")
	if err != nil {
		t.Fatalf("create group: %v", err)
	}
	if _, err := gs.ToggleMembership(member.ID, group.ID); err != nil {
		t.Fatalf("join group: %v", err)
	}
	event, err := es.Create(owner.ID, group.ID, "Pub Quiz", "", time.Now().Add(time.Hour), nil, "")
	if err != nil {
		t.Fatalf("create event: %v", err)
	}
	attendee, err := es.SetRSVP(member.ID, event.ID, model.RSVPYes)
	if err != nil {
		t.Fatalf("set rsvp: %v", err)
	}

	if err := es.DeleteRSVP(attendee.ID); err != nil {
		t.Fatalf("delete rsvp: %v", err)
	}
	got, err := es.GetAttendee(member.ID, event.ID)
	if err != nil {
		t.Fatalf("get attendee: %v", err)
	}
	if got != nil {
		t.Error("expected nil attendee after delete")
	}
	// The event itself is untouched.
	gotEvent, err := es.GetByID(event.ID)
	if err != nil {
		t.Fatalf("get event: %v", err)
	}
	if gotEvent == nil {
		t.Error("expected event to survive rsvp delete")
	}

	if err := es.DeleteRSVP(attendee.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("delete missing rsvp error = %v, want ErrNotFound", err)
	}
}

func TestUpcomingAndPast(t *testing.T) {
	es, gs, us, _ := setupEventTestDB(t)
	owner := createTestUser(t, us, "alice")

	group, err := gs.Create(owner.ID, "Quiz League", "", "quizzers")
	if err != nil {
		t.Fatalf("create group: %v", err)
	}

	now := time.Now().UTC()
	past, err := es.Create(owner.ID, group.ID, "Last Week", "", now.Add(-7*24*time.Hour), nil, "")
	if err != nil {
		t.Fatalf("create past event: %v", err)
	}
	atNow, err := es.Create(owner.ID, group.ID, "Right Now", "", now, nil, "")
	if err != nil {
		t.Fatalf("create boundary event: %v", err)
	}
	soon, err := es.Create(owner.ID, group.ID, "Tomorrow", "", now.Add(24*time.Hour), nil, "")
	if err != nil {
		t.Fatalf("create upcoming event: %v", err)
	}
	hidden, err := es.Create(owner.ID, group.ID, "Hidden", "", now.Add(48*time.Hour), nil, "")
	if err != nil {
		t.Fatalf("create hidden event: %v", err)
	}
	if _, err := es.Update(hidden.ID, hidden.Name, "", hidden.StartsAt, nil, "", false); err != nil {
		t.Fatalf("hide event: %v", err)
	}

	upcoming, err := es.Upcoming(now)
	if err != nil {
		t.Fatalf("list upcoming: %v", err)
	}
	// An event starting exactly now counts as upcoming; hidden events are
	// excluded. Soonest first.
	if len(upcoming) != 2 {
		t.Fatalf("upcoming = %d events, want 2", len(upcoming))
	}
	if upcoming[0].ID != atNow.ID || upcoming[1].ID != soon.ID {
		t.Errorf("upcoming order = %d, %d, want %d, %d", upcoming[0].ID, upcoming[1].ID, atNow.ID, soon.ID)
	}

	pastEvents, err := es.Past(now)
	if err != nil {
		t.Fatalf("list past: %v", err)
	}
	if len(pastEvents) != 1 || pastEvents[0].ID != past.ID {
		t.Fatalf("past = %v, want just %q", pastEvents, "Last Week")
	}
}

func TestRSVPedEvents(t *testing.T) {
	es, gs, us, _ := setupEventTestDB(t)
	owner := createTestUser(t, us, "alice")
	member := createTestUser(t, us, "bob")

	group, err := gs.Create(owner.ID, "Quiz League", "", "quizzers")
	if err != nil {
		t.Fatalf("create group: %v", err)
	}
	if _, err := gs.ToggleMembership(member.ID, group.ID); err != nil {
		t.Fatalf("join group: %v", err)
	}
	quiz, err := es.Create(owner.ID, group.ID, "Pub Quiz", "", time.Now().Add(time.Hour), nil, "")
	if err != nil {
		t.Fatalf("create event: %v", err)
	}
	if _, err := es.Create(owner.ID, group.ID, "Other Night", "", time.Now().Add(2*time.Hour), nil, ""); err != nil {
		t.Fatalf("create second event: %v", err)
	}
	if _, err := es.SetRSVP(member.ID, quiz.ID, model.RSVPMaybe); err != nil {
		t.Fatalf("set rsvp: %v", err)
	}

	rsvped, err := es.RSVPed(member.ID)
	if err != nil {
		t.Fatalf("list rsvped: %v", err)
	}
	if len(rsvped) != 1 {
		t.Fatalf("rsvped = %d events, want 1", len(rsvped))
	}
	if rsvped[0].Event.ID != quiz.ID {
		t.Errorf("event id = %d, want %d", rsvped[0].Event.ID, quiz.ID)
	}
	if rsvped[0].RSVPStatus != model.RSVPMaybe {
		t.Errorf("rsvp_status = %q, want %q", rsvped[0].RSVPStatus, model.RSVPMaybe)
	}
}

func TestAttendeesByStatus(t *testing.T) {
	es, gs, us, _ := setupEventTestDB(t)
	owner := createTestUser(t, us, "alice")
	maybe := createTestUser(t, us, "bob")
	declined := createTestUser(t, us, "carol")

	group, err := gs.Create(owner.ID, "Quiz League", "", "quizzers")
	if err != nil {
		t.Fatalf("create group: %v", err)
	}
	for _, u := range []*model.User{maybe, declined} {
		if _, err := gs.ToggleMembership(u.ID, group.ID); err != nil {
			t.Fatalf("join group: %v", err)
		}
	}
	event, err := es.Create(owner.ID, group.ID, "Pub Quiz", "", time.Now().Add(time.Hour), nil, "")
	if err != nil {
		t.Fatalf("create event: %v", err)
	}
	if _, err := es.SetRSVP(maybe.ID, event.ID, model.RSVPMaybe); err != nil {
		t.Fatalf("set rsvp: %v", err)
	}
	if _, err := es.SetRSVP(declined.ID, event.ID, model.RSVPNo); err != nil {
		t.Fatalf("set rsvp: %v", err)
	}

	yes, err := es.AttendeesByStatus(event.ID, model.RSVPYes)
	if err != nil {
		t.Fatalf("list yes attendees: %v", err)
	}
	if len(yes) != 1 || yes[0].UserID != owner.ID {
		t.Fatalf("yes attendees = %v, want just the creator", yes)
	}

	all, err := es.AttendeesByStatus(event.ID, "")
	if err != nil {
		t.Fatalf("list all attendees: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("attendees = %d, want 3", len(all))
	}
}
