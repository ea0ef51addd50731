package alsa

import (
	"context"
	"io"
	"os"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/e7canasta/orion-kiosk-bridge/modules/media"
)

const arecordListing = `**** List of CAPTURE Hardware Devices ****
card 1: M1066 [Yundea M1066], device 0: USB Audio [USB Audio]
  Subdevices: 1/1
  Subdevice #0: subdevice #0
card 2: Device [USB PnP Sound Device], device 0: USB Audio [USB Audio]
  Subdevices: 1/1
  Subdevice #0: subdevice #0
`

const aplayListing = `**** List of PLAYBACK Hardware Devices ****
card 0: vc4hdmi0 [vc4-hdmi-0], device 0: MAI PCM i2s-hifi-0 [MAI PCM i2s-hifi-0]
  Subdevices: 1/1
  Subdevice #0: subdevice #0
card 1: M1066 [Yundea M1066], device 0: USB Audio [USB Audio]
  Subdevices: 0/1
  Subdevice #0: subdevice #0
`

func TestParseDeviceList(t *testing.T) {
	capture := ParseDeviceList(arecordListing)
	require.Len(t, capture, 2)
	assert.Equal(t, media.DeviceInfo{Name: "Yundea M1066: USB Audio", ID: "hw:1,0"}, capture[0])
	assert.Equal(t, media.DeviceInfo{Name: "USB PnP Sound Device: USB Audio", ID: "hw:2,0"}, capture[1])

	playback := ParseDeviceList(aplayListing)
	require.Len(t, playback, 2)
	assert.Equal(t, "hw:0,0", playback[0].ID)
	assert.Equal(t, "vc4-hdmi-0: MAI PCM i2s-hifi-0", playback[0].Name)
	assert.Equal(t, "hw:1,0", playback[1].ID)
}

func TestParseDeviceList_Empty(t *testing.T) {
	assert.Empty(t, ParseDeviceList(""))
	assert.Empty(t, ParseDeviceList("arecord: device_list:274: no soundcards found...\n"))
}

func TestPCMArgs(t *testing.T) {
	assert.Equal(t,
		[]string{"-D", "hw:1,0", "-f", "S16_LE", "-r", "16000", "-c", "1", "-t", "raw", "-q"},
		pcmArgs("hw:1,0", media.CaptureFormat))
	assert.Equal(t,
		[]string{"-D", "default", "-f", "S16_LE", "-r", "48000", "-c", "2", "-t", "raw", "-q"},
		pcmArgs("", media.PlaybackFormat))
}

func TestTailBuffer_KeepsTail(t *testing.T) {
	tb := &tailBuffer{max: 8}
	_, _ = tb.Write([]byte("audio open error: "))
	_, _ = tb.Write([]byte("busy"))
	assert.Equal(t, "or: busy", tb.String())
}

func TestReadLoop_DeliversThenCloses(t *testing.T) {
	pr, pw := io.Pipe()
	data := make(chan []byte, 4)
	errc := make(chan error, 1)
	go readLoop(pr, data, errc, make(chan struct{}))

	_, err := pw.Write([]byte{1, 2, 3, 4})
	require.NoError(t, err)
	got := <-data
	assert.Equal(t, []byte{1, 2, 3, 4}, got)

	require.NoError(t, pw.Close())
	_, ok := <-data
	assert.False(t, ok, "data channel must close at EOF")
	assert.Empty(t, errc)
}

func TestReadLoop_QuitUnblocksSend(t *testing.T) {
	pr, pw := io.Pipe()
	data := make(chan []byte) // unbuffered and never read
	quit := make(chan struct{})
	exited := make(chan struct{})
	go func() {
		readLoop(pr, data, make(chan error, 1), quit)
		close(exited)
	}()

	go func() { _, _ = pw.Write([]byte{0, 0}) }()
	time.Sleep(20 * time.Millisecond)
	close(quit)

	select {
	case <-exited:
	case <-time.After(time.Second):
		t.Fatal("readLoop did not exit after quit")
	}
}

func TestStartProcess_WaitsForStdoutDrain(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not installed")
	}
	const size = 256 << 10 // several pipe buffers

	var stdout io.ReadCloser
	var n int64
	proc, err := startProcess("sh", []string{"-c", "sleep 0.4; head -c 262144 /dev/zero"},
		func(cmd *exec.Cmd) error {
			var err error
			stdout, err = cmd.StdoutPipe()
			return err
		},
		func() <-chan struct{} {
			done := make(chan struct{})
			go func() {
				defer close(done)
				time.Sleep(600 * time.Millisecond) // slow consumer: the child exits first
				n, _ = io.Copy(io.Discard, stdout)
			}()
			return done
		})
	require.NoError(t, err)

	select {
	case <-proc.exited:
	case <-time.After(5 * time.Second):
		t.Fatal("process did not exit")
	}
	require.NoError(t, proc.err)
	assert.Equal(t, int64(size), n, "trailing output is read before the pipe is closed")
}

func TestRecorder_ReadBeforeOpen(t *testing.T) {
	r := NewRecorder("")
	assert.Equal(t, "default", r.Name())
	_, err := r.Read(10 * time.Millisecond)
	assert.ErrorIs(t, err, io.EOF)
	assert.NoError(t, r.Close())
}

func TestPlayer_WriteBeforeOpen(t *testing.T) {
	p := NewPlayer("hw:1,0")
	assert.Error(t, p.Write([]byte{0, 0}))
	assert.NoError(t, p.Close())
}

// TestRecorder_Hardware records 200ms from ALSA_TEST_DEVICE.
func TestRecorder_Hardware(t *testing.T) {
	device := os.Getenv("ALSA_TEST_DEVICE")
	if device == "" || !RecordAvailable() {
		t.Skip("set ALSA_TEST_DEVICE to run against a real microphone")
	}

	r := NewRecorder(device)
	require.NoError(t, r.Open(media.CaptureFormat))
	defer r.Close()

	total := 0
	deadline := time.Now().Add(200 * time.Millisecond)
	for time.Now().Before(deadline) {
		buf, err := r.Read(100 * time.Millisecond)
		if err == media.ErrNoSample {
			continue
		}
		require.NoError(t, err)
		total += len(buf)
	}
	assert.Greater(t, total, 0)
	t.Logf("✅ read %d bytes from %s", total, device)
}

func TestListCaptureDevices_Hardware(t *testing.T) {
	if !RecordAvailable() {
		t.Skip("arecord not installed")
	}
	devices, err := ListCaptureDevices(context.Background())
	if err != nil && strings.Contains(err.Error(), "no soundcards") {
		t.Skip("no sound cards")
	}
	require.NoError(t, err)
	for _, d := range devices {
		t.Logf("capture device %s (%s)", d.ID, d.Name)
	}
}
