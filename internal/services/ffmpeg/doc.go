// Package ffmpeg anonymizes voice recordings with ffmpeg and measures them
// with ffprobe.
//
// Every input is decoded and normalized to 16 kHz mono PCM WAV before the
// preset's filter chain runs. Output is written with bitexact flags and no
// metadata so the same input and preset always produce the same bytes, and
// therefore the same content-addressed blob key.
package ffmpeg
