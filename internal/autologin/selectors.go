package autologin

// Candidate selectors per login step. Google rotates its sign-in DOM between
// experiments, so every step carries fallbacks and the engine takes the
// first one that renders.

var emailInputSelectors = []string{
	"input#identifierId",
	"input[type='email']",
	"input[name='identifier']",
}

var emailNextSelectors = []string{
	"#identifierNext",
	"#identifierNext button",
	"xpath=//button[.//span[normalize-space()='Next']]",
}

var passwordInputSelectors = []string{
	"input[name='Passwd']",
	"input[type='password']",
	"input[name='password']",
}

var passwordNextSelectors = []string{
	"#passwordNext",
	"#passwordNext button",
	"xpath=//button[.//span[normalize-space()='Next']]",
}

var totpInputSelectors = []string{
	"input[name='totpPin']",
	"input#totpPin",
	"input[type='tel']",
}

var totpNextSelectors = []string{
	"#totpNext",
	"#totpNext button",
	"xpath=//button[.//span[normalize-space()='Next']]",
}

// interstitialSelectors dismiss the optional screens Google shows after a
// successful sign-in (recovery prompts, passkey upsell, cookie consent).
var interstitialSelectors = []string{
	"xpath=//button[normalize-space()='Not now']",
	"xpath=//span[normalize-space()='Not now']/ancestor::button",
	"xpath=//button[normalize-space()='Skip']",
	"xpath=//span[normalize-space()='Skip']/ancestor::button",
	"xpath=//button[normalize-space()='Done']",
	"xpath=//span[normalize-space()='Done']/ancestor::button",
	"xpath=//button[normalize-space()='Reject all']",
	"xpath=//span[normalize-space()='Reject all']/ancestor::button",
}

// challengeSelectors indicate a verification wall automation cannot pass.
var challengeSelectors = []string{
	"iframe[src*='recaptcha']",
	"#captchaimg",
	"xpath=//*[contains(text(), 'Verify it')]",
	"xpath=//*[contains(text(), 'unusual activity')]",
}
