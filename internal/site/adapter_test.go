package site

import "testing"

func TestSelectKnownPlatforms(t *testing.T) {
	r := NewRegistry()
	cases := []struct {
		url  string
		want string
	}{
		{"https://www.youtube.com/watch?v=dQw4w9WgXcQ", "youtube"},
		{"https://youtu.be/dQw4w9WgXcQ", "youtube"},
		{"https://music.youtube.com/watch?v=abcdefghijk", "youtube"},
		{"https://vimeo.com/76979871", "vimeo"},
		{"https://player.vimeo.com/video/76979871", "vimeo"},
		{"https://www.twitch.tv/videos/123456789", "twitch"},
		{"https://example.org/lecture.html", "generic"},
		{"https://notyoutube.com/watch?v=dQw4w9WgXcQ", "generic"},
	}
	for _, c := range cases {
		if got := r.Select(c.url).Name(); got != c.want {
			t.Errorf("Select(%q) = %q; want %q", c.url, got, c.want)
		}
	}
}

func TestSelectNeverFails(t *testing.T) {
	r := NewRegistry()
	for _, raw := range []string{"", "::not a url::", "file:///tmp/x.mp4", "about:blank"} {
		a := r.Select(raw)
		if a == nil {
			t.Fatalf("Select(%q) = nil; want generic adapter", raw)
		}
		if a.Name() != "generic" {
			t.Errorf("Select(%q) = %q; want generic", raw, a.Name())
		}
	}
}

func TestGenericIsLast(t *testing.T) {
	r := NewRegistry()
	adapters := r.Adapters()
	if len(adapters) == 0 {
		t.Fatal("Adapters() returned empty list")
	}
	if got := adapters[len(adapters)-1].Name(); got != "generic" {
		t.Errorf("last adapter = %q; want generic", got)
	}
}
