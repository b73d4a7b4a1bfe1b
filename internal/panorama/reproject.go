package panorama

import (
	"errors"
	"fmt"
	"image"
	"math"
	"runtime"
	"sync"
)

// Output bounds for a single crop.
const (
	MaxOutputDimension = 8192
	DefaultFOV         = 90.0
)

// ErrInvalidCamera is returned for camera parameters that cannot be rendered.
var ErrInvalidCamera = errors.New("invalid camera")

// Camera describes a rectilinear view into a panorama. Heading is measured in
// the panorama's own frame, so 0 is its horizontal centre. Positive pitch
// tilts the view down.
type Camera struct {
	Heading float64
	Pitch   float64
	FOV     float64
	Width   int
	Height  int
}

// Validate checks that the camera can be rendered.
func (c Camera) Validate() error {
	switch {
	case c.Width <= 0 || c.Height <= 0:
		return fmt.Errorf("%w: output %dx%d must be positive", ErrInvalidCamera, c.Width, c.Height)
	case c.Width > MaxOutputDimension || c.Height > MaxOutputDimension:
		return fmt.Errorf("%w: output %dx%d exceeds %d", ErrInvalidCamera, c.Width, c.Height, MaxOutputDimension)
	case math.IsNaN(c.FOV) || c.FOV <= 0 || c.FOV >= 180:
		return fmt.Errorf("%w: fov %v must be within (0, 180)", ErrInvalidCamera, c.FOV)
	case math.IsNaN(c.Pitch) || c.Pitch < -90 || c.Pitch > 90:
		return fmt.Errorf("%w: pitch %v must be within [-90, 90]", ErrInvalidCamera, c.Pitch)
	case math.IsNaN(c.Heading) || math.IsInf(c.Heading, 0):
		return fmt.Errorf("%w: heading is not finite", ErrInvalidCamera)
	}
	return nil
}

// Reproject renders the camera view from an equirectangular panorama using
// nearest-neighbour sampling. The output is exactly Width x Height and
// depends only on its inputs.
func Reproject(pano *image.RGBA, cam Camera) (*image.RGBA, error) {
	if err := cam.Validate(); err != nil {
		return nil, err
	}
	if pano == nil || pano.Bounds().Empty() {
		return nil, fmt.Errorf("%w: empty panorama", ErrInvalidCamera)
	}

	out := image.NewRGBA(image.Rect(0, 0, cam.Width, cam.Height))
	p := newProjection(pano, cam)

	workers := runtime.GOMAXPROCS(0)
	if workers > cam.Height {
		workers = cam.Height
	}
	rowsPerWorker := (cam.Height + workers - 1) / workers

	var wg sync.WaitGroup
	for start := 0; start < cam.Height; start += rowsPerWorker {
		end := min(start+rowsPerWorker, cam.Height)
		wg.Add(1)
		go func(start, end int) {
			defer wg.Done()
			for y := start; y < end; y++ {
				p.renderRow(out, y)
			}
		}(start, end)
	}
	wg.Wait()

	return out, nil
}

// projection holds per-request constants of the ray cast.
type projection struct {
	src        *image.RGBA
	srcW, srcH int
	outW, outH int
	tanHalf    float64
	aspect     float64
	cosPitch   float64
	sinPitch   float64
	cosHeading float64
	sinHeading float64
	srcMinX    int
	srcMinY    int
}

func newProjection(pano *image.RGBA, cam Camera) *projection {
	headingRad := cam.Heading * math.Pi / 180
	pitchRad := cam.Pitch * math.Pi / 180
	fovRad := cam.FOV * math.Pi / 180
	b := pano.Bounds()

	return &projection{
		src:        pano,
		srcW:       b.Dx(),
		srcH:       b.Dy(),
		outW:       cam.Width,
		outH:       cam.Height,
		tanHalf:    math.Tan(fovRad / 2),
		aspect:     float64(cam.Width) / float64(cam.Height),
		cosPitch:   math.Cos(pitchRad),
		sinPitch:   math.Sin(pitchRad),
		cosHeading: math.Cos(headingRad),
		sinHeading: math.Sin(headingRad),
		srcMinX:    b.Min.X,
		srcMinY:    b.Min.Y,
	}
}

// sample maps an output pixel to a source pixel.
func (p *projection) sample(outX, outY int) (srcX, srcY int) {
	nx := 2*float64(outX)/float64(p.outW) - 1
	ny := 1 - 2*float64(outY)/float64(p.outH)

	x := nx * p.tanHalf * p.aspect
	y := ny * p.tanHalf
	z := 1.0

	l := math.Sqrt(x*x + y*y + z*z)
	vx, vy, vz := x/l, y/l, z/l

	// Pitch about X.
	vy, vz = vy*p.cosPitch-vz*p.sinPitch, vy*p.sinPitch+vz*p.cosPitch

	// Heading about Y.
	vx, vz = vx*p.cosHeading+vz*p.sinHeading, -vx*p.sinHeading+vz*p.cosHeading

	theta := math.Atan2(vx, vz)
	phi := math.Asin(math.Max(-1, math.Min(1, vy)))

	panoX := (theta + math.Pi) / (2 * math.Pi) * float64(p.srcW)
	panoY := (math.Pi/2 - phi) / math.Pi * float64(p.srcH)

	panoX = math.Max(0, math.Min(float64(p.srcW-1), panoX))
	panoY = math.Max(0, math.Min(float64(p.srcH-1), panoY))

	return int(math.Floor(panoX)), int(math.Floor(panoY))
}

func (p *projection) renderRow(out *image.RGBA, y int) {
	row := out.Pix[y*out.Stride : y*out.Stride+p.outW*4]
	for x := 0; x < p.outW; x++ {
		sx, sy := p.sample(x, y)
		si := p.src.PixOffset(sx+p.srcMinX, sy+p.srcMinY)
		di := x * 4
		row[di] = p.src.Pix[si]
		row[di+1] = p.src.Pix[si+1]
		row[di+2] = p.src.Pix[si+2]
		row[di+3] = 0xff
	}
}
