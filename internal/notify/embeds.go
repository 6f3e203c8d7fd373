package notify

import (
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/museko-bot/museko/internal/session"
	"github.com/museko-bot/museko/internal/utils"
)

func ProgressBar(width int, progress float64) string {
	if width <= 0 {
		return ""
	}
	if progress < 0 {
		progress = 0
	}
	if progress > 1 {
		progress = 1
	}
	dot := int(float64(width) * progress)
	if dot >= width {
		dot = width - 1
	}
	out := make([]rune, 0, width*2)
	for i := 0; i < width; i++ {
		if i == dot {
			out = append(out, '🔘')
		} else {
			out = append(out, '▬')
		}
	}
	return string(out)
}

func trackLink(t *session.Track) string {
	return fmt.Sprintf("[%s](%s)", utils.EscapeMd(t.Title), t.Link)
}

func trackDuration(t *session.Track) string {
	if t.IsLive {
		return "live"
	}
	return utils.PrettyTime(int(t.Length.Seconds()))
}

// PlayingEmbed renders the current track with a seek bar. Used both for the
// nowplaying command and for channel announcements.
func PlayingEmbed(s *session.Session) *discordgo.MessageEmbed {
	cur, ok := s.CurrentTrack()
	if !ok {
		return &discordgo.MessageEmbed{
			Title:       "Nothing Playing",
			Description: "No playing track found",
			Color:       0x992222,
		}
	}
	pos := s.CurrentTrackPlayTime()
	progress := 0.0
	if cur.Length > 0 {
		progress = float64(pos) / float64(cur.Length)
	}
	elapsed := "live"
	if !cur.IsLive {
		elapsed = fmt.Sprintf("%s/%s",
			utils.PrettyTime(int(pos.Seconds())), trackDuration(cur))
	}
	button := "▶️"
	title := "Now Playing"
	color := 0x006400
	if s.Paused() {
		button = "⏹️"
		title = "Paused"
		color = 0x8B0000
	}
	loop := ""
	if s.Looped() {
		loop = "🔁"
	}

	desc := fmt.Sprintf("**%s**\n\n%s %s `[ %s ]` %s",
		trackLink(cur), button, ProgressBar(10, progress), elapsed, loop)

	return &discordgo.MessageEmbed{
		Title:       title,
		Description: desc,
		Color:       color,
		Footer: &discordgo.MessageEmbedFooter{
			Text: fmt.Sprintf("Source: %s", cur.Artist),
		},
	}
}

// QueueEmbed renders one page of the queue. Pages are 1-based.
func QueueEmbed(s *session.Session, page, pageSize int) (*discordgo.MessageEmbed, error) {
	const maxDesc = 4096

	cur, ok := s.CurrentTrack()
	if !ok {
		return nil, fmt.Errorf("queue is empty")
	}
	queue := s.Queue()
	total := len(queue)
	maxPage := (total + pageSize - 1) / pageSize
	if maxPage < 1 {
		maxPage = 1
	}
	if page > maxPage {
		return nil, fmt.Errorf("the queue isn't that big")
	}

	begin := (page - 1) * pageSize
	end := begin + pageSize
	if end > total {
		end = total
	}

	pos := s.CurrentTrackPlayTime()
	progress := 0.0
	if cur.Length > 0 {
		progress = float64(pos) / float64(cur.Length)
	}
	elapsed := "live"
	if !cur.IsLive {
		elapsed = fmt.Sprintf("%s/%s",
			utils.PrettyTime(int(pos.Seconds())), trackDuration(cur))
	}

	desc := fmt.Sprintf("**%s**\n\n%s `[ %s ]`\n\n",
		trackLink(cur), ProgressBar(10, progress), elapsed)

	if end > begin {
		desc += "**Up next:**\n"
		built := &strings.Builder{}
		shown := 0
		for i := begin; i < end; i++ {
			t := queue[i]
			line := fmt.Sprintf("`%d.` %s `[ %s ]`\n", i+1, trackLink(t), trackDuration(t))
			if len(desc)+built.Len()+len(line) > maxDesc {
				break
			}
			built.WriteString(line)
			shown++
		}
		desc += built.String()
		if rest := end - begin - shown; rest > 0 {
			more := fmt.Sprintf("…and %d more", rest)
			if len(desc)+len(more) <= maxDesc {
				desc += more
			}
		}
	}

	totalLen := cur.Length
	for _, t := range queue {
		totalLen += t.Length
	}

	title := "Now Playing"
	if s.Looped() {
		title += " (loop on)"
	}

	return &discordgo.MessageEmbed{
		Title:       title,
		Description: desc,
		Color:       0x006400,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "In queue", Value: queueInfo(total), Inline: true},
			{Name: "Total length", Value: totalLenStr(totalLen.Seconds()), Inline: true},
			{Name: "Page", Value: fmt.Sprintf("%d out of %d", page, maxPage), Inline: true},
		},
		Footer: &discordgo.MessageEmbedFooter{
			Text: fmt.Sprintf("Source: %s", cur.Artist),
		},
	}, nil
}

func queueInfo(n int) string {
	if n == 0 {
		return "-"
	}
	if n == 1 {
		return "1 track"
	}
	return fmt.Sprintf("%d tracks", n)
}

func totalLenStr(sec float64) string {
	if sec <= 0 {
		return "-"
	}
	return utils.PrettyTime(int(sec))
}
