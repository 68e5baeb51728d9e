package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/skillpath-ai/skillpath-go/internal/api"
	"github.com/skillpath-ai/skillpath-go/internal/credstore"
	"github.com/skillpath-ai/skillpath-go/internal/token"
)

// Command flags
var (
	loginEmail    string
	loginPassword string

	registerUsername string
	registerEmail    string
	registerPassword string

	profileUsername string
	profileEmail    string
	profilePassword string

	forgotEmail      string
	resetToken       string
	resetNewPassword string

	roadmapSaveAfterGenerate bool
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in to the SkillPath backend",
	Long: `Authenticate with email and password.

On success the session (identity plus access/refresh token pair) is
stored on disk and reused by subsequent commands until logout or until
the refresh token is rejected by the backend.`,
	RunE: runLogin,
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Sign out and clear the stored session",
	Long: `Ask the backend to invalidate the refresh token, then clear local state.

Local state is cleared even when the backend cannot be reached; leaving
the session takes priority over server acknowledgment.`,
	RunE: runLogout,
}

var registerCmd = &cobra.Command{
	Use:   "register",
	Short: "Create a new account",
	RunE:  runRegister,
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the current session",
	RunE:  runWhoami,
}

var forgotPasswordCmd = &cobra.Command{
	Use:   "forgot-password",
	Short: "Request a password reset token",
	RunE:  runForgotPassword,
}

var resetPasswordCmd = &cobra.Command{
	Use:   "reset-password",
	Short: "Redeem a reset token for a new password",
	RunE:  runResetPassword,
}

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Update profile fields",
	Long: `Update username, email, and/or password. Omitted flags are left unchanged.

The stored session is patched with the backend's view of the updated
profile; tokens are preserved.`,
	RunE: runProfile,
}

var roadmapCmd = &cobra.Command{
	Use:   "roadmap",
	Short: "Manage the learning roadmap",
}

var roadmapGenerateCmd = &cobra.Command{
	Use:   "generate <career goal>",
	Short: "Generate a roadmap with the AI service",
	Long: `Ask the generative-AI service for a learning roadmap toward the given
career goal. With --save the result is also persisted to the backend
and to the stored session snapshot.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRoadmapGenerate,
}

var roadmapShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the roadmap stored on the session",
	RunE:  runRoadmapShow,
}

var roadmapSaveCmd = &cobra.Command{
	Use:   "save <file.json>",
	Short: "Upload a roadmap JSON document to the backend",
	Args:  cobra.ExactArgs(1),
	RunE:  runRoadmapSave,
}

var roadmapCompleteCmd = &cobra.Command{
	Use:   "complete <node-id>",
	Short: "Complete the active roadmap node",
	Long: `Mark the given node completed. The backend validates that the node is
the active one, activates the next node, and returns the updated
roadmap, which replaces the stored snapshot.`,
	Args: cobra.ExactArgs(1),
	RunE: runRoadmapComplete,
}

var activityCmd = &cobra.Command{
	Use:   "activity",
	Short: "Report a completed learning activity",
	Long: `Report activity completion. The backend awards XP, increments the
streak, and pushes the updated metrics over the realtime channel.`,
	RunE: runActivity,
}

var tutorCmd = &cobra.Command{
	Use:   "tutor <message>",
	Short: "Ask the AI tutor a question",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runTutor,
}

var labCmd = &cobra.Command{
	Use:   "lab <topic>",
	Short: "Generate a skill-lab coding challenge",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runLab,
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream live metrics until interrupted",
	Long: `Open the realtime channel for the current session and print each
metrics event as it arrives. The channel reconnects automatically with
a fixed delay when the backend drops the connection. Stop with Ctrl-C.`,
	RunE: runWatch,
}

var themeCmd = &cobra.Command{
	Use:   "theme [light|dark]",
	Short: "Show or set the theme preference",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runTheme,
}

func init() {
	loginCmd.Flags().StringVar(&loginEmail, "email", "", "Account email")
	loginCmd.Flags().StringVar(&loginPassword, "password", "", "Account password (prompted when omitted)")

	registerCmd.Flags().StringVar(&registerUsername, "username", "", "Display name")
	registerCmd.Flags().StringVar(&registerEmail, "email", "", "Account email")
	registerCmd.Flags().StringVar(&registerPassword, "password", "", "Account password (prompted when omitted)")

	profileCmd.Flags().StringVar(&profileUsername, "username", "", "New display name")
	profileCmd.Flags().StringVar(&profileEmail, "email", "", "New account email")
	profileCmd.Flags().StringVar(&profilePassword, "password", "", "New password")

	forgotPasswordCmd.Flags().StringVar(&forgotEmail, "email", "", "Account email")

	resetPasswordCmd.Flags().StringVar(&resetToken, "token", "", "Reset token")
	resetPasswordCmd.Flags().StringVar(&resetNewPassword, "new-password", "", "New password")

	roadmapGenerateCmd.Flags().BoolVar(&roadmapSaveAfterGenerate, "save", false,
		"Persist the generated roadmap to the backend")

	roadmapCmd.AddCommand(roadmapGenerateCmd)
	roadmapCmd.AddCommand(roadmapShowCmd)
	roadmapCmd.AddCommand(roadmapSaveCmd)
	roadmapCmd.AddCommand(roadmapCompleteCmd)

	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(logoutCmd)
	rootCmd.AddCommand(registerCmd)
	rootCmd.AddCommand(whoamiCmd)
	rootCmd.AddCommand(forgotPasswordCmd)
	rootCmd.AddCommand(resetPasswordCmd)
	rootCmd.AddCommand(profileCmd)
	rootCmd.AddCommand(roadmapCmd)
	rootCmd.AddCommand(activityCmd)
	rootCmd.AddCommand(tutorCmd)
	rootCmd.AddCommand(labCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(themeCmd)
}

func runLogin(cmd *cobra.Command, args []string) error {
	a, err := newApp(nil)
	if err != nil {
		return err
	}

	if loginEmail == "" {
		return fmt.Errorf("--email is required")
	}
	password := loginPassword
	if password == "" {
		password, err = promptLine("Password: ")
		if err != nil {
			return err
		}
	}

	sess, err := a.controller.Login(context.Background(), loginEmail, password)
	if err != nil {
		if api.IsNetwork(err) {
			return fmt.Errorf("backend unreachable, check connectivity and api.base_url: %w", err)
		}
		return err
	}

	fmt.Printf("Signed in as %s <%s>\n", sess.Username, sess.Email)
	a.controller.StopRealtime()
	return nil
}

func runLogout(cmd *cobra.Command, args []string) error {
	a, err := newApp(nil)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	a.controller.Logout(ctx)
	fmt.Println("Signed out")
	return nil
}

func runRegister(cmd *cobra.Command, args []string) error {
	a, err := newApp(nil)
	if err != nil {
		return err
	}

	if registerUsername == "" || registerEmail == "" {
		return fmt.Errorf("--username and --email are required")
	}
	password := registerPassword
	if password == "" {
		password, err = promptLine("Password: ")
		if err != nil {
			return err
		}
	}

	message, err := a.client.SignUp(context.Background(), registerUsername, registerEmail, password, []string{"user"})
	if err != nil {
		return err
	}

	fmt.Println(message)
	return nil
}

func runWhoami(cmd *cobra.Command, args []string) error {
	a, err := newApp(nil)
	if err != nil {
		return err
	}

	sess := a.store.Current()
	if sess == nil {
		fmt.Println("Not signed in")
		return nil
	}

	fmt.Printf("User:     %s <%s>\n", sess.Username, sess.Email)
	fmt.Printf("User ID:  %s\n", sess.UserID)
	fmt.Printf("Roles:    %s\n", strings.Join(sess.Roles, ", "))

	if info, err := token.Inspect(sess.AccessToken); err == nil && !info.ExpiresAt.IsZero() {
		if remaining := time.Until(info.ExpiresAt); remaining > 0 {
			fmt.Printf("Token:    expires in %s\n", remaining.Round(time.Second))
		} else {
			fmt.Println("Token:    expired (will be refreshed on next request)")
		}
	}
	return nil
}

func runForgotPassword(cmd *cobra.Command, args []string) error {
	a, err := newApp(nil)
	if err != nil {
		return err
	}
	if forgotEmail == "" {
		return fmt.Errorf("--email is required")
	}

	message, reset, err := a.client.ForgotPassword(context.Background(), forgotEmail)
	if err != nil {
		return err
	}

	fmt.Println(message)
	if reset != "" {
		fmt.Printf("Reset token: %s\n", reset)
	}
	return nil
}

func runResetPassword(cmd *cobra.Command, args []string) error {
	a, err := newApp(nil)
	if err != nil {
		return err
	}
	if resetToken == "" || resetNewPassword == "" {
		return fmt.Errorf("--token and --new-password are required")
	}

	message, err := a.client.ResetPassword(context.Background(), resetToken, resetNewPassword)
	if err != nil {
		return err
	}

	fmt.Println(message)
	return nil
}

func runProfile(cmd *cobra.Command, args []string) error {
	a, err := newApp(nil)
	if err != nil {
		return err
	}

	sess := a.store.Current()
	if sess == nil {
		return fmt.Errorf("not signed in")
	}
	if profileUsername == "" && profileEmail == "" && profilePassword == "" {
		return fmt.Errorf("nothing to update; pass --username, --email, and/or --password")
	}

	req := api.UpdateProfileRequest{
		Username: profileUsername,
		Email:    profileEmail,
		Password: profilePassword,
	}
	profile, err := a.client.UpdateProfile(context.Background(), sess.UserID, req)
	if err != nil {
		return err
	}

	// Mirror the backend's view locally; tokens are untouched by Patch.
	patch := patchFromProfile(profile)
	if err := a.store.Patch(patch); err != nil {
		return fmt.Errorf("profile updated on the backend but local session patch failed: %w", err)
	}

	fmt.Printf("Profile updated: %s <%s>\n", profile.Username, profile.Email)
	return nil
}

func runRoadmapGenerate(cmd *cobra.Command, args []string) error {
	a, err := newApp(nil)
	if err != nil {
		return err
	}

	ai, err := a.genaiClient()
	if err != nil {
		return err
	}

	goal := strings.Join(args, " ")
	fmt.Printf("Generating roadmap for %q...\n", goal)

	roadmap, err := ai.GenerateRoadmap(context.Background(), goal)
	if err != nil {
		return err
	}

	printRoadmap(roadmap)

	if !roadmapSaveAfterGenerate {
		return nil
	}

	sess := a.store.Current()
	if sess == nil {
		return fmt.Errorf("not signed in; roadmap was generated but not saved")
	}
	if err := a.client.SaveRoadmap(context.Background(), sess.UserID, roadmap); err != nil {
		return err
	}
	if err := patchRoadmapSnapshot(a, roadmap); err != nil {
		return err
	}

	fmt.Println("Roadmap saved")
	return nil
}

func runRoadmapShow(cmd *cobra.Command, args []string) error {
	a, err := newApp(nil)
	if err != nil {
		return err
	}

	sess := a.store.Current()
	if sess == nil {
		return fmt.Errorf("not signed in")
	}
	if sess.RoadmapJSON == "" {
		fmt.Println("No roadmap stored; run 'skillpath roadmap generate'")
		return nil
	}

	roadmap, err := api.ParseRoadmap(sess.RoadmapJSON)
	if err != nil {
		return err
	}
	printRoadmap(roadmap)
	return nil
}

func runRoadmapSave(cmd *cobra.Command, args []string) error {
	a, err := newApp(nil)
	if err != nil {
		return err
	}

	sess := a.store.Current()
	if sess == nil {
		return fmt.Errorf("not signed in")
	}

	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read roadmap file: %w", err)
	}
	var roadmap api.Roadmap
	if err := json.Unmarshal(data, &roadmap); err != nil {
		return fmt.Errorf("failed to parse roadmap file: %w", err)
	}

	if err := a.client.SaveRoadmap(context.Background(), sess.UserID, &roadmap); err != nil {
		return err
	}
	if err := patchRoadmapSnapshot(a, &roadmap); err != nil {
		return err
	}

	fmt.Println("Roadmap saved")
	return nil
}

func runRoadmapComplete(cmd *cobra.Command, args []string) error {
	a, err := newApp(nil)
	if err != nil {
		return err
	}

	if a.store.Current() == nil {
		return fmt.Errorf("not signed in")
	}

	roadmap, err := a.client.CompleteRoadmapNode(context.Background(), args[0])
	if err != nil {
		return err
	}
	if err := patchRoadmapSnapshot(a, roadmap); err != nil {
		return err
	}

	fmt.Printf("Node %s completed\n", args[0])
	printRoadmap(roadmap)
	return nil
}

func runActivity(cmd *cobra.Command, args []string) error {
	a, err := newApp(nil)
	if err != nil {
		return err
	}

	if a.store.Current() == nil {
		return fmt.Errorf("not signed in")
	}

	message, err := a.client.CompleteActivity(context.Background())
	if err != nil {
		return err
	}

	fmt.Println(message)
	return nil
}

func runTutor(cmd *cobra.Command, args []string) error {
	a, err := newApp(nil)
	if err != nil {
		return err
	}

	ai, err := a.genaiClient()
	if err != nil {
		return err
	}

	reply, err := ai.Chat(context.Background(), nil, strings.Join(args, " "))
	if err != nil {
		return err
	}

	fmt.Println(reply)
	return nil
}

func runLab(cmd *cobra.Command, args []string) error {
	a, err := newApp(nil)
	if err != nil {
		return err
	}

	ai, err := a.genaiClient()
	if err != nil {
		return err
	}

	lab, err := ai.GenerateLabChallenge(context.Background(), strings.Join(args, " "))
	if err != nil {
		return err
	}

	fmt.Printf("%s\n\n%s\n\n--- starter code ---\n%s\n", lab.Title, lab.Description, lab.StarterCode)
	return nil
}

func runWatch(cmd *cobra.Command, args []string) error {
	a, err := newApp(func(ev api.MetricsEvent) {
		fmt.Printf("xp=%d streak=%d\n", ev.XP, ev.Streak)
	})
	if err != nil {
		return err
	}

	if a.store.Current() == nil {
		return fmt.Errorf("not signed in")
	}

	a.controller.StartRealtime()
	fmt.Println("Watching live metrics (Ctrl-C to stop)")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	a.controller.StopRealtime()
	return nil
}

func runTheme(cmd *cobra.Command, args []string) error {
	a, err := newApp(nil)
	if err != nil {
		return err
	}

	if len(args) == 0 {
		theme := a.store.Theme()
		if theme == "" {
			theme = "light"
		}
		fmt.Println(theme)
		return nil
	}

	theme := args[0]
	if theme != "light" && theme != "dark" {
		return fmt.Errorf("theme must be light or dark")
	}
	if err := a.store.SetTheme(theme); err != nil {
		return err
	}
	fmt.Printf("Theme set to %s\n", theme)
	return nil
}

// promptLine reads one line from stdin after printing prompt.
func promptLine(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("failed to read input: %w", err)
	}
	return strings.TrimSpace(line), nil
}

// printRoadmap renders a roadmap to stdout.
func printRoadmap(r *api.Roadmap) {
	fmt.Printf("%s\n%s\n\n", r.Title, r.Description)
	for i, node := range r.Nodes {
		marker := " "
		switch node.Status {
		case api.NodeStatusActive:
			marker = ">"
		case api.NodeStatusCompleted:
			marker = "x"
		}
		fmt.Printf("%s %d. %s [%s] (%dh)\n", marker, i+1, node.Title, node.Status, node.EstimatedHours)
		if len(node.Topics) > 0 {
			fmt.Printf("     topics: %s\n", strings.Join(node.Topics, ", "))
		}
	}
}

// patchRoadmapSnapshot stores the serialized roadmap on the local session.
func patchRoadmapSnapshot(a *app, roadmap *api.Roadmap) error {
	data, err := json.Marshal(roadmap)
	if err != nil {
		return fmt.Errorf("failed to encode roadmap: %w", err)
	}
	snapshot := string(data)
	if err := a.store.Patch(credstore.Patch{RoadmapJSON: &snapshot}); err != nil {
		return fmt.Errorf("roadmap saved but local snapshot update failed: %w", err)
	}
	return nil
}

// patchFromProfile converts the backend's profile view into a session patch.
func patchFromProfile(p *api.Profile) credstore.Patch {
	patch := credstore.Patch{
		Username: &p.Username,
		Email:    &p.Email,
	}
	if p.RoadmapJSON != "" {
		patch.RoadmapJSON = &p.RoadmapJSON
	}
	return patch
}
