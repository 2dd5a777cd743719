package overlay

// palette hands out marker colors round-robin. Each coordinator owns its own
// palette, so color assignment is per observer.
type palette struct {
	index int
}

var paletteColors = []string{
	"#b71c1c",
	"#4a148c",
	"#2e7d32",
	"#e65100",
	"#2962ff",
	"#c2185b",
	"#FFCD00",
	"#3e2723",
	"#03a9f4",
	"#827717",
}

func (p *palette) next() string {
	color := paletteColors[p.index%len(paletteColors)]
	p.index++
	return color
}
