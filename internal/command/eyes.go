// SPDX-License-Identifier: MIT

package command

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"path/filepath"

	"github.com/disintegration/imaging"

	"github.com/rabbitize/rabbitize/internal/artifacts"
)

const eyesScreenshotQuality = 80

// eyesModalScript renders the answer in a centered modal so the follow-up
// screenshot shows question and answer together.
const eyesModalScript = `(answer) => {
  const modal = document.createElement('div');
  modal.id = '__rb_eyes_modal';
  modal.style.cssText = 'position:fixed;top:50%;left:50%;transform:translate(-50%,-50%);' +
    'max-width:60vw;max-height:60vh;overflow:auto;z-index:2147483647;' +
    'background:rgba(20,20,20,0.95);color:#fff;font:14px sans-serif;' +
    'padding:16px 20px;border-radius:8px;box-shadow:0 8px 32px rgba(0,0,0,0.5);white-space:pre-wrap;';
  modal.textContent = answer;
  document.documentElement.appendChild(modal);
}`

const eyesModalRemoveScript = `() => {
  const m = document.getElementById('__rb_eyes_modal');
  if (m) { m.remove(); }
}`

// handleRabbitEyes asks the vision endpoint a question about the current
// viewport, optionally cropped to a rectangle.
func handleRabbitEyes(ctx context.Context, rt *Runtime, cmd Command) Result {
	if rt.Vision == nil {
		return Fail(":rabbit-eyes: no vision endpoint configured")
	}
	prompt, err := cmd.String(0)
	if err != nil {
		return Fail(err.Error())
	}

	shot, err := rt.Driver.ScreenshotJPEG(eyesScreenshotQuality)
	if err != nil {
		return Fail(err.Error())
	}

	// Optional crop rectangle after the prompt.
	if len(cmd.Args) >= 5 {
		var rect [4]int
		for i := range rect {
			v, err := cmd.Int(i + 1)
			if err != nil {
				return Fail(err.Error())
			}
			rect[i] = v
		}
		cropped, err := cropJPEG(shot, rect)
		if err != nil {
			return Fail(err.Error())
		}
		shot = cropped
	}

	shotPath := filepath.Join(rt.Tree.ScreenshotsDir(), fmt.Sprintf("%d_eyes.jpg", rt.CommandIndex))
	if err := artifacts.WriteFileAtomic(shotPath, shot); err != nil {
		rt.Logger.Warn().Err(err).Msg("eyes screenshot write failed")
	}

	answer, err := rt.Vision.Ask(ctx, prompt, shot)
	if err != nil {
		return Fail(err.Error())
	}

	var answerPath string
	if _, err := rt.Driver.Eval(eyesModalScript, answer); err == nil {
		if withAnswer, err := rt.Driver.ScreenshotJPEG(eyesScreenshotQuality); err == nil {
			answerPath = filepath.Join(rt.Tree.ScreenshotsDir(), fmt.Sprintf("%d_eyes_answer.jpg", rt.CommandIndex))
			if err := artifacts.WriteFileAtomic(answerPath, withAnswer); err != nil {
				rt.Logger.Warn().Err(err).Msg("eyes answer screenshot write failed")
				answerPath = ""
			}
		}
		if _, err := rt.Driver.Eval(eyesModalRemoveScript); err != nil {
			rt.Logger.Debug().Err(err).Msg("eyes modal removal failed")
		}
	}

	return OK().
		With("answer", answer).
		With("screenshot", shotPath).
		With("screenshotWithAnswer", answerPath).
		With("prompt", prompt)
}

func cropJPEG(data []byte, rect [4]int) ([]byte, error) {
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode screenshot: %w", err)
	}
	cropped := imaging.Crop(img, image.Rect(rect[0], rect[1], rect[2], rect[3]))
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, cropped, imaging.JPEG, imaging.JPEGQuality(eyesScreenshotQuality)); err != nil {
		return nil, fmt.Errorf("encode crop: %w", err)
	}
	return buf.Bytes(), nil
}
